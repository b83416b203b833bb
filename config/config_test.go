package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotenvPrefersPlayerScriptsDir(t *testing.T) {
	scriptsDir := t.TempDir()
	cwd := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, DotenvFilename), []byte("SIMULCAST_RELAY_ROOM=fromscripts\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, DotenvFilename), []byte("SIMULCAST_RELAY_ROOM=fromcwd\n"), 0o644))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(cwd))

	os.Unsetenv(EnvRelayRoom)
	require.NoError(t, LoadDotenv(scriptsDir))
	assert.Equal(t, "fromscripts", os.Getenv(EnvRelayRoom))
}

func TestLoadDotenvFallsBackToCWD(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, DotenvFilename), []byte("SIMULCAST_RELAY_ROOM=fromcwd\n"), 0o644))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(cwd))

	os.Unsetenv(EnvRelayRoom)
	require.NoError(t, LoadDotenv(""))
	assert.Equal(t, "fromcwd", os.Getenv(EnvRelayRoom))
}

func TestClientFlagPrecedenceOverDefault(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := BindClientFlags(fs)
	require.NoError(t, fs.Parse([]string{"--relay-room", "fromflag"}))
	cfg := LoadClient(v)
	assert.Equal(t, "fromflag", cfg.RelayRoom)
}

func TestRelayDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := BindRelayFlags(fs)
	require.NoError(t, fs.Parse(nil))
	cfg := LoadRelay(v)
	assert.Equal(t, DefaultBindAddress, cfg.BindAddress)
	assert.Equal(t, DefaultBindPort, cfg.BindPort)
}
