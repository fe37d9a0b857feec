package cmd

import (
	"errors"
	"fmt"
	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/spf13/cobra"
	"log"
)

var errMissingToken = errors.New("no discord token configured")

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Connects to discord and starts handling anonymous posts",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			if err := checkRunConfig(cfg); err != nil {
				log.Fatalf("error: %s", err.Error())
			}
			bot, err := confessional.New(cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}
)

// checkRunConfig catches the settings that can't have defaults, so a
// missing token or channel is reported before anything connects
func checkRunConfig(c *confessional.Config) error {
	var errs []error
	if c.Discord == nil || c.Discord.Token == "" {
		errs = append(
			errs,
			fmt.Errorf(
				"%w (set %s_DISCORD_TOKEN or %s)",
				errMissingToken,
				envPrefix(),
				confessional.EnvvarDiscordToken,
			),
		)
	}
	if c.Channels == nil || c.Channels.Post == "" {
		errs = append(
			errs,
			fmt.Errorf("no post channel configured (set %s_CHANNELS_POST)", envPrefix()),
		)
	}
	if len(c.Roles) == 0 {
		errs = append(
			errs,
			fmt.Errorf("no roles configured (set %s_ROLES, ex: He/Him=123,She/Her=456)", envPrefix()),
		)
	}
	return errors.Join(errs...)
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
