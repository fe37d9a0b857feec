package cmd

import (
	"fmt"
	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/spf13/cobra"
	"runtime"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bot's version and build details",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf(
		"confessional %s (commit %s, built %s, %s)",
		confessional.Version,
		confessional.CommitSHA,
		confessional.BuildTime,
		runtime.Version(),
	)
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
