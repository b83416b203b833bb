package installer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWritesLauncherScript(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	var out bytes.Buffer
	err := Run(&out)
	require.NoError(t, err)

	dir, err := ScriptsDir()
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, launcherScriptName))
	require.NoError(t, err)
	require.Contains(t, string(b), "simulcast-mpv")
	require.Contains(t, out.String(), "Creating")
}

func TestCopySelfSkipsWhenAlreadyInPlace(t *testing.T) {
	dir := t.TempDir()
	self, err := os.Executable()
	require.NoError(t, err)
	self, err = filepath.EvalSymlinks(self)
	require.NoError(t, err)

	target := filepath.Join(dir, targetExeName())
	// Hardlink, not copy: os.SameFile compares device+inode, so a content
	// copy would still look like a different file.
	require.NoError(t, os.Link(self, target))

	var out bytes.Buffer
	require.NoError(t, copySelf(&out, dir))
	require.Empty(t, out.String())
}
