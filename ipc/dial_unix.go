//go:build !windows

package ipc

import (
	"io"
	"net"
)

// Dial connects to mpv's --input-ipc-server Unix domain socket. OS
// detection is confined to this file and dial_windows.go; the rest of the
// package only sees io.ReadWriteCloser.
func Dial(path string) (io.ReadWriteCloser, error) {
	return net.Dial("unix", path)
}
