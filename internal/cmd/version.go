package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcodeml/pkg/arc"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s %s\n", binaryName, versionInfo.Version)
		_, _ = fmt.Fprintf(out, "  commit:     %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "  built:      %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "  go:         %s\n", runtime.Version())
		_, _ = fmt.Fprintf(out, "  arc format: %s\n", arc.ContractVersion)
		if v := crucible.GetVersion(); v.Gofulmen != "" {
			_, _ = fmt.Fprintf(out, "  gofulmen:   %s\n", v.Gofulmen)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
