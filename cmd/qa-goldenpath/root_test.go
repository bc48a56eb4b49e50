package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetRootFlags clears global flag state between tests since rootCmd and its
// flag variables are package-level, shared across the whole test binary.
func resetRootFlags(t *testing.T) {
	t.Helper()
	flagConfig = ""
	flagDev = false
	flagSkipQA = false
	flagAddr = ""
	rootCmd.SetArgs(nil)
}

func TestServeCmd_Registered(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Use == "serve" {
			found = true
		}
	}
	assert.True(t, found, "serve command must be registered under the root command")
}

func TestServeCmd_Flags(t *testing.T) {
	serveCmd := newServeCmd()

	addrFlag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, ":8090", addrFlag.DefValue)

	skipQAFlag := serveCmd.Flags().Lookup("skip-qa")
	require.NotNil(t, skipQAFlag)
	assert.Equal(t, "false", skipQAFlag.DefValue)
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	configFlag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)

	devFlag := rootCmd.PersistentFlags().Lookup("dev")
	require.NotNil(t, devFlag)
	assert.Equal(t, "false", devFlag.DefValue)
}

// A missing --config file must surface as a load error that Execute turns
// into a non-zero exit code, never a panic.
func TestExecute_BadConfigPathReturnsNonZeroExit(t *testing.T) {
	resetRootFlags(t)
	rootCmd.SetArgs([]string{"serve", "--config", "/nonexistent/qa-goldenpath.yaml"})
	code := Execute()
	assert.Equal(t, 1, code)
}

func TestExecute_UnknownSubcommandReturnsNonZeroExit(t *testing.T) {
	resetRootFlags(t)
	rootCmd.SetArgs([]string{"no-such-command"})
	code := Execute()
	assert.Equal(t, 1, code)
}
