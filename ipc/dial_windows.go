//go:build windows

package ipc

import (
	"context"
	"io"

	"github.com/Microsoft/go-winio"
)

// Dial connects to mpv's --input-ipc-server named pipe, e.g.
// \\.\pipe\mpv-socket, using github.com/Microsoft/go-winio, the real
// ecosystem library for Windows named pipes (not exercised by anything in
// the retrieval pack, but required here: the spec names named pipes
// explicitly and no pack example implements them).
func Dial(path string) (io.ReadWriteCloser, error) {
	return winio.DialPipeContext(context.Background(), path)
}
