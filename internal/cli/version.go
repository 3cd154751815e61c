package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coinwatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\ncommit: %s\nbuilt: %s\n", version.Name, version.Version, version.Commit, version.BuildDate)
	},
}
