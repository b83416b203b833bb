// Package assets embeds the player-side launcher script the installer
// writes out.
package assets

import _ "embed"

//go:embed simulcast-mpv.lua
var LauncherScript string
