package cmd

import (
	"github.com/iskips123/Discord-Dating/confessional"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

// resetConfig restores viper and the package config after a test
// executes the root command
func resetConfig(t testing.TB) {
	t.Helper()
	t.Cleanup(
		func() {
			viper.Reset()
			cfg = confessional.DefaultConfig()
			configFile = ""
			rootCmd.SetArgs(nil)
		},
	)
}

// clearEnv empties the environment for the duration of the test
func clearEnv(t testing.TB) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()
}
