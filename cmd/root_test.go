package cmd

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	clearEnv(t)
	resetConfig(t)

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

CF_DATABASE=/home/foo/confessional.sqlite3
CF_DATABASE_TYPE=sqlite
CF_DATABASE_LOG_LEVEL=INFO
CF_DATABASE_SLOW_THRESHOLD=200ms
CF_LOG_LEVEL=DEBUG
CF_STARTUP_TIMEOUT=30s
CF_SHUTDOWN_TIMEOUT=60s

# Discord bot config

CF_DISCORD_TOKEN=your-discord-bot-token
CF_DISCORD_APPLICATION_ID=1234567890
CF_DISCORD_GUILD_ID=
CF_DISCORD_LOG_LEVEL=WARN
CF_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
CF_DISCORD_COMMAND_PREFIX=?
CF_DISCORD_COMMAND_NAME=confess
CF_DISCORD_CUSTOM_STATUS="?confess to post"
CF_DISCORD_GATEWAY_INTENTS=3243773
CF_DISCORD_HTTP_TIMEOUT=15s

# Channels and roles

CF_CHANNELS_POST=1456059354607255000
CF_CHANNELS_MOD_LOG=1456059354607255001
CF_ROLES="He/Him=1456059354607255612,She/Her=1456059535612444712"

# Rules

CF_RULES_MAX_LENGTH=400
CF_RULES_REPLY_MAX_LENGTH=800
CF_RULES_CONTACT_MAX_LENGTH=200
CF_RULES_COOLDOWN=2m
CF_RULES_CONTACT_TIMEOUT=10m
CF_RULES_DELETE_COMMAND=false
CF_RULES_BLOCK_MENTIONS=true
CF_RULES_LOG_POSTS=true

# Avatars

CF_AVATAR_DIR=/var/cache/confessional
CF_AVATAR_SIZE=128
CF_AVATAR_BLUR_SIGMA=12.5
CF_AVATAR_FETCH_TIMEOUT=5s
CF_AVATAR_FETCHES_PER_SECOND=2

# API server

CF_API_ENABLED=true
CF_API_DEVELOPMENT=true
CF_API_LISTEN=127.0.0.1:5050
CF_API_LOG_LEVEL=DEBUG
CF_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
CF_API_READ_TIMEOUT=5s
CF_API_READ_HEADER_TIMEOUT=5s
CF_API_WRITE_TIMEOUT=10s
CF_API_IDLE_TIMEOUT=30s
`
	err := os.WriteFile(envFile, []byte(envContent), 0o644)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/confessional.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelError, viper.Get("discord.discordgo_log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors_allow_origins"),
	)

	assert.Equal(t, "/home/foo/confessional.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "1234567890", cfg.Discord.ApplicationID)
	assert.Equal(t, "", cfg.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "?", cfg.Discord.CommandPrefix)
	assert.Equal(t, "confess", cfg.Discord.CommandName)
	assert.Equal(t, "?confess to post", cfg.Discord.CustomStatus)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)
	assert.Equal(t, 15*time.Second, cfg.Discord.HTTPTimeout)

	assert.Equal(t, "1456059354607255000", cfg.Channels.Post)
	assert.Equal(t, "1456059354607255001", cfg.Channels.ModLog)
	assert.Equal(
		t,
		confessional.RoleMapping{
			{Label: "He/Him", RoleID: "1456059354607255612"},
			{Label: "She/Her", RoleID: "1456059535612444712"},
		},
		cfg.Roles,
	)

	assert.Equal(t, 400, cfg.Rules.MaxLength)
	assert.Equal(t, 800, cfg.Rules.ReplyMaxLength)
	assert.Equal(t, 200, cfg.Rules.ContactMaxLength)
	assert.Equal(t, 2*time.Minute, cfg.Rules.Cooldown)
	assert.Equal(t, 10*time.Minute, cfg.Rules.ContactTimeout)
	assert.False(t, cfg.Rules.DeleteCommand)
	assert.True(t, cfg.Rules.BlockMentions)
	assert.True(t, cfg.Rules.LogPosts)

	assert.Equal(t, "/var/cache/confessional", cfg.Avatar.Dir)
	assert.Equal(t, 128, cfg.Avatar.Size)
	assert.InDelta(t, 12.5, cfg.Avatar.BlurSigma, 0.001)
	assert.Equal(t, 5*time.Second, cfg.Avatar.FetchTimeout)
	assert.InDelta(t, 2.0, cfg.Avatar.FetchesPerSecond, 0.001)

	assert.True(t, cfg.API.Enabled)
	assert.True(t, cfg.API.Development)
	assert.Equal(t, "127.0.0.1:5050", cfg.API.Listen)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORSAllowOrigins,
	)
	assert.Equal(t, 5*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.API.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, cfg.API.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.API.IdleTimeout)

	bot, err := confessional.New(cfg)
	require.NoError(t, err)
	assert.NoError(t, bot.ValidateConfig())
}

func TestDiscordTokenAlias(t *testing.T) {
	clearEnv(t)
	resetConfig(t)

	t.Setenv(confessional.EnvvarDiscordToken, "plain-token")

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "plain-token", cfg.Discord.Token)
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	resetConfig(t)

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, confessional.DefaultDatabase, cfg.Database)
	assert.Equal(t, confessional.DefaultCooldown, cfg.Rules.Cooldown)
	assert.Equal(t, confessional.DefaultContactTimeout, cfg.Rules.ContactTimeout)
	assert.Equal(t, confessional.DefaultMaxLength, cfg.Rules.MaxLength)
	assert.Equal(t, confessional.DefaultDiscordCommandPrefix, cfg.Discord.CommandPrefix)
	assert.Equal(t, confessional.DefaultDiscordCommandName, cfg.Discord.CommandName)
	assert.Equal(t, confessional.DefaultLogLevel, cfg.LogLevel.Level())
	assert.Empty(t, cfg.Roles)
	assert.Empty(t, cfg.Discord.Token)

	err := checkRunConfig(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errMissingToken)
}

func TestGetLogLevel(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected slog.Level
		wantErr  bool
	}{
		{in: "DEBUG", expected: slog.LevelDebug},
		{in: "info", expected: slog.LevelInfo},
		{in: "WARN", expected: slog.LevelWarn},
		{in: "ERROR", expected: slog.LevelError},
		{in: "LOUD", expected: slog.LevelInfo, wantErr: true},
	} {
		t.Run(
			tc.in, func(t *testing.T) {
				lvl, err := getLogLevel(tc.in)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
				assert.Equal(t, tc.expected, lvl)
			},
		)
	}
}
