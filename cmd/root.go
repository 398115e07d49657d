package cmd

import (
	"flag"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/authzkit/kuberbac/internal/system"
)

var (
	setupLog logr.Logger

	cfgFile        string
	verbosity      int
	ignorePrefixes []string
	sources        []string
	fromCluster    bool
	kubeconfig     string
	awsAuthPath    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kuberbac",
	Short: "Evaluate, lint and serve Kubernetes RBAC policy",
	Long: `kuberbac loads RBAC objects from manifests or a live cluster and answers
the questions the API server's authorizer would: can this subject perform
this action, and who can perform it. It also lints bindings for common
mistakes, renders the subject-to-role graph and serves the decision logic
as a SubjectAccessReview webhook.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = flag.Set("v", strconv.Itoa(verbosity))
		ctrl.SetLogger(klog.NewKlogr())
		log := klog.NewKlogr()
		log.V(1).Info("app info", "name", system.Name, "version", system.Version, "commit", system.Commit)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	setupLog = ctrl.Log.WithName("setup")
	klog.InitFlags(nil)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the kuberbac config file")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "Log level (0-9)")
	rootCmd.PersistentFlags().StringSliceVar(&ignorePrefixes, "ignore-prefix", nil, "drop objects whose name carries this prefix (repeatable)")
	rootCmd.PersistentFlags().StringSliceVarP(&sources, "filename", "f", nil, "manifest file, directory or - for stdin (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&fromCluster, "from-cluster", false, "load RBAC objects from the current cluster instead of manifests")
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "path to the kubeconfig file used with --from-cluster")
	rootCmd.PersistentFlags().StringVar(&awsAuthPath, "aws-auth", "", "path to an aws-auth ConfigMap manifest for --as-arn mapping")
}
