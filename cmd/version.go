package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authzkit/kuberbac/internal/system"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), system.PrettyInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
