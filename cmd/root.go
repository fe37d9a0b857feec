package cmd

import (
	"context"
	"fmt"
	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = confessional.DefaultConfig()
	configFile string
)

// logLevelKeys are the settings parsed from level names ("INFO", "DEBUG")
// into *slog.LevelVar before the config is unmarshalled
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

var rootCmd = &cobra.Command{
	Use:   "confessional [flags]",
	Short: "Anonymous confession bot for Discord",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					confessional.StringToRoleMappingHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envPrefix returns the prefix for environment variables, which can
// itself be overridden from the environment
func envPrefix() string {
	prefix := os.Getenv(confessional.EnvvarSetEnvPrefix)
	if prefix == "" {
		prefix = confessional.DefaultEnvPrefix
	}
	return prefix
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", confessional.DefaultDatabase)
	viper.SetDefault("database_type", confessional.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		confessional.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		confessional.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", confessional.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", confessional.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", confessional.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.command_prefix", confessional.DefaultDiscordCommandPrefix)
	viper.SetDefault("discord.command_name", confessional.DefaultDiscordCommandName)
	viper.SetDefault("discord.custom_status", confessional.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.log_level",
		confessional.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		confessional.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		confessional.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.http_timeout", confessional.DefaultDiscordHTTPTimeout)

	// Channels and roles have no defaults, but need to be known keys for
	// AutomaticEnv to pick them up during Unmarshal
	viper.SetDefault("channels.post", "")
	viper.SetDefault("channels.mod_log", "")
	viper.SetDefault("roles", "")

	// Rules
	viper.SetDefault("rules.max_length", confessional.DefaultMaxLength)
	viper.SetDefault("rules.reply_max_length", confessional.DefaultReplyMaxLength)
	viper.SetDefault("rules.contact_max_length", confessional.DefaultContactMaxLength)
	viper.SetDefault("rules.cooldown", confessional.DefaultCooldown)
	viper.SetDefault("rules.contact_timeout", confessional.DefaultContactTimeout)
	viper.SetDefault("rules.delete_command", confessional.DefaultDeleteCommand)
	viper.SetDefault("rules.block_mentions", confessional.DefaultBlockMentions)
	viper.SetDefault("rules.log_posts", confessional.DefaultLogPosts)

	// Avatars
	viper.SetDefault("avatar.dir", confessional.DefaultAvatarDir)
	viper.SetDefault("avatar.size", confessional.DefaultAvatarSize)
	viper.SetDefault("avatar.blur_sigma", confessional.DefaultAvatarBlurSigma)
	viper.SetDefault("avatar.fetch_timeout", confessional.DefaultAvatarFetchTimeout)
	viper.SetDefault(
		"avatar.fetches_per_second",
		confessional.DefaultAvatarFetchesPerSecond,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", confessional.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", confessional.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", confessional.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		confessional.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", confessional.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", confessional.DefaultIdleTimeout)
	viper.SetDefault("api.cors_allow_origins", []string{})

	prefix := envPrefix()
	viper.SetEnvPrefix(prefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// the token may also be given as plain DISCORD_TOKEN
	if err := viper.BindEnv(
		"discord.token",
		prefix+"_DISCORD_TOKEN",
		confessional.EnvvarDiscordToken,
	); err != nil {
		log.Fatalf("error: %v", err)
	}

	// Convert values to correct types
	viper.Set(
		"api.cors_allow_origins",
		viper.GetStringSlice("api.cors_allow_origins"),
	)

	for _, key := range logLevelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
