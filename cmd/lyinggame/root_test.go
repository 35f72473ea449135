package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI in-process and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "simulate", "migrate", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := newRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "lyinggame dev\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitCommandError, exitCode(usageError("bad flag")))
	assert.Equal(t, exitCommandError, exitCode(&exitError{Code: exitCommandError, Message: "load config", Err: errors.New("boom")}))
	assert.Equal(t, exitFailure, exitCode(errors.New("plain")))

	wrapped := &exitError{Code: exitCommandError, Message: "load config", Err: errors.New("boom")}
	assert.Equal(t, "load config: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")
}

func TestMissingConfigFileIsCommandError(t *testing.T) {
	_, err := execute(t, "--config", t.TempDir()+"/missing.yaml", "simulate")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}
