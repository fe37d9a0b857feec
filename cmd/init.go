package cmd

import (
	"fmt"
	"log"

	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the report database and avatar cache directory",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.Database == "" {
			fmt.Fprintln(out, "No database configured, reports won't be recorded.")
		} else if cfg.DatabaseType == "" {
			log.Fatal("Environment variable CF_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}

		if err := confessional.InitStorage(ctx, cfg); err != nil {
			log.Fatalf("Error initializing storage: %v", err)
		}
		if cfg.Database != "" {
			fmt.Fprintf(out, "Database ready (%s)\n", cfg.DatabaseType)
		}
		fmt.Fprintf(out, "Avatar directory ready: %s\n", cfg.Avatar.Dir)

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
