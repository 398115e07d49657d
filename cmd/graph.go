package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authzkit/kuberbac/internal/graph"
)

var (
	graphNamespaces []string
	graphShowRules  bool
	graphOutput     string
)

// graphCmd renders the subject-to-role graph in Graphviz dot format.
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the RBAC object graph as Graphviz dot",
	Long: `Render the subject -> binding -> role chains of the loaded RBAC objects
as a Graphviz dot graph. Pipe the output through dot to get an image:

  kuberbac graph -f manifests/ --show-rules | dot -Tsvg -o rbac.svg`,
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

		g := graph.New(store, graph.Options{
			Namespaces: graphNamespaces,
			ShowRules:  graphShowRules,
		}).Render()

		if graphOutput == "" || graphOutput == "-" {
			fmt.Fprintln(cmd.OutOrStdout(), g.String())
			return nil
		}
		if err := os.WriteFile(graphOutput, []byte(g.String()), 0o644); err != nil {
			return fmt.Errorf("writing graph: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringSliceVarP(&graphNamespaces, "namespace", "n", nil, "limit the graph to these namespaces (repeatable)")
	graphCmd.Flags().BoolVar(&graphShowRules, "show-rules", false, "attach each role's rules to the graph")
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "write the dot output to a file instead of stdout")
}
