//go:build linux

package options

import (
	"context"
	"testing"

	"github.com/inhies/go-bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCliDefaults(t *testing.T) {
	opts, err := ParseCli(context.Background(), []string{"fhsbox"})
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, "./shell.nix", opts.Env.Recipe)
	assert.Empty(t, opts.Env.Packages)
	assert.False(t, opts.Env.NoCache)
	assert.Empty(t, opts.Sandbox.Run)
	assert.Zero(t, opts.Sandbox.TmpfsSize)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", opts.Sandbox.UUID.String())
}

func TestParseCliRecipe(t *testing.T) {
	opts, err := ParseCli(context.Background(), []string{"fhsbox", "--recipe", "env/dev.nix"})
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, "env/dev.nix", opts.Env.Recipe)
	assert.Empty(t, opts.Env.Name)
}

func TestParseCliPackages(t *testing.T) {
	opts, err := ParseCli(context.Background(), []string{
		"fhsbox", "--packages", "gcc", "--packages", "gdb",
	})
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, []string{"gcc", "gdb"}, opts.Env.Packages)
	// Synthesized environments get a generated name.
	assert.NotEmpty(t, opts.Env.Name)
}

func TestParseCliRecipeConflictsWithPackages(t *testing.T) {
	_, err := ParseCli(context.Background(), []string{
		"fhsbox", "--recipe", "shell.nix", "--packages", "gcc",
	})
	require.Error(t, err)
}

func TestParseCliRun(t *testing.T) {
	opts, err := ParseCli(context.Background(), []string{"fhsbox", "--run", "make -j8"})
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, "make -j8", opts.Sandbox.Run)
}

func TestParseCliTmpfsSize(t *testing.T) {
	opts, err := ParseCli(context.Background(), []string{"fhsbox", "--tmpfs-size", "1KB"})
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, uint64(bytesize.KB), opts.Sandbox.TmpfsSize)
}

func TestParseCliBadTmpfsSize(t *testing.T) {
	_, err := ParseCli(context.Background(), []string{"fhsbox", "--tmpfs-size", "lots"})
	require.Error(t, err)
}

func TestParseCliRejectsPositionalArguments(t *testing.T) {
	_, err := ParseCli(context.Background(), []string{"fhsbox", "bash"})
	require.Error(t, err)
}

func TestParseCliBadLogLevel(t *testing.T) {
	_, err := ParseCli(context.Background(), []string{"fhsbox", "--log-level", "chatty"})
	require.Error(t, err)
}
