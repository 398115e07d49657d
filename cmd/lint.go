package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authzkit/kuberbac/pkg/lint"
)

// lintCmd runs the static checks over the loaded store. The exit status is
// non-zero when any error-severity finding exists, so the command slots into
// CI pipelines.
var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check RBAC objects for broken references and risky rules",
	Long: `Check the loaded RBAC objects for mistakes that Kubernetes accepts
silently: bindings whose roleRef points nowhere, subjects with the wrong
apiGroup, ServiceAccounts that do not exist, roles nothing binds and
wildcard rules.

Example:
  kuberbac lint -f manifests/ --ignore-prefix "system:"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, err := loadStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		findings := lint.New(store).Run()

		out := cmd.OutOrStdout()
		for _, finding := range findings {
			fmt.Fprintln(out, finding)
		}
		fmt.Fprintf(out, "%d findings\n", len(findings))

		if lint.HasErrors(findings) {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return fmt.Errorf("lint found errors")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lintCmd)
}
