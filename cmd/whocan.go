package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	rbacv1 "k8s.io/api/rbac/v1"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

var (
	whocanNamespace string
	whocanExplain   bool
)

// whocanCmd inverts can-i: instead of checking one subject it enumerates all
// subjects some binding allows to perform the action.
var whocanCmd = &cobra.Command{
	Use:   "who-can VERB RESOURCE|PATH [NAME]",
	Short: "List the subjects that can perform an action",
	Long: `List every User, Group and ServiceAccount that the loaded bindings allow
to perform an action. The target syntax matches can-i.

Examples:
  kuberbac who-can delete pods -n development -f manifests/
  kuberbac who-can get /metrics --from-cluster`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, err := loadStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		attrs := parseAction(args)
		attrs.Namespace = whocanNamespace

		ev := authorizer.NewEvaluator(store, ctrl.Log.WithName("evaluator"))
		subjects := ev.WhoCan(attrs)

		out := cmd.OutOrStdout()
		if len(subjects) == 0 {
			fmt.Fprintln(out, "no subject can perform this action")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSUBJECT\tVIA")
		for _, sg := range subjects {
			fmt.Fprintf(w, "%s\t%s\t%s\n", sg.Subject.Kind, subjectName(sg.Subject), sg.Grants[0].Binding)
			if whocanExplain {
				for _, grant := range sg.Grants {
					fmt.Fprintf(w, "\t\t%s -> %s: %s\n", grant.Binding, grant.Role, authorizer.RuleString(grant.Rule))
				}
			}
		}
		return w.Flush()
	},
}

func subjectName(subject rbacv1.Subject) string {
	if subject.Kind == rbacv1.ServiceAccountKind && subject.Namespace != "" {
		return subject.Namespace + "/" + subject.Name
	}
	return subject.Name
}

func init() {
	rootCmd.AddCommand(whocanCmd)

	whocanCmd.Flags().StringVarP(&whocanNamespace, "namespace", "n", "", "namespace of the request")
	whocanCmd.Flags().BoolVar(&whocanExplain, "explain", false, "print every binding and rule behind each subject")
}
