// Package installer implements the (no args) subcommand: copy the
// running binary and the player-side launcher script into the player's
// scripts directory.
package installer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rtldg/simulcast-mpv/assets"
)

const launcherScriptName = "simulcast-mpv.lua"

// ScriptsDir returns the player scripts directory the installer targets:
// ~/.config/mpv/scripts on Unix, %APPDATA%\mpv\scripts on Windows.
func ScriptsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "mpv", "scripts"), nil
	}
	return filepath.Join(home, ".config", "mpv", "scripts"), nil
}

func targetExeName() string {
	if runtime.GOOS == "windows" {
		return "simulcast-mpv.exe"
	}
	return "simulcast-mpv"
}

// Run performs the install: create the scripts directory, write the
// launcher script, and copy the current executable alongside it if it
// isn't already running from there. out receives progress lines, mirroring
// the original's stdout println sequence.
func Run(out io.Writer) error {
	dir, err := ScriptsDir()
	if err != nil {
		return fmt.Errorf("installer: resolve scripts dir: %w", err)
	}

	fmt.Fprintf(out, "- Creating %s\n", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("installer: create scripts dir: %w", err)
	}

	scriptPath := filepath.Join(dir, launcherScriptName)
	fmt.Fprintf(out, "- Writing %s\n", scriptPath)
	if err := os.WriteFile(scriptPath, []byte(assets.LauncherScript), 0o644); err != nil {
		return fmt.Errorf("installer: write launcher script: %w", err)
	}

	if err := copySelf(out, dir); err != nil {
		return err
	}

	return nil
}

func copySelf(out io.Writer, dir string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("installer: locate current executable: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("installer: resolve current executable: %w", err)
	}

	target := filepath.Join(dir, targetExeName())
	if samePath(self, target) {
		return nil
	}

	fmt.Fprintln(out, "- Copying current executable to scripts directory...")
	return copyFile(self, target)
}

func samePath(a, b string) bool {
	ai, aerr := os.Stat(a)
	bi, berr := os.Stat(b)
	if aerr != nil || berr != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("installer: open source executable: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("installer: create target executable: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("installer: copy executable: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installer: finalize target executable: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		if errors.Is(err, os.ErrPermission) {
			// The target is the currently-running binary on some platforms;
			// leave the freshly-copied temp file as a best effort.
			return nil
		}
		return fmt.Errorf("installer: finalize target executable: %w", err)
	}
	return nil
}
