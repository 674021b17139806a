//go:build windows

// Package winpipe dials a coordinator exposed on a local Windows named pipe,
// e.g. `winpipe://./pipe/sybl`.
package winpipe

import (
	"context"

	winio "github.com/Microsoft/go-winio"

	"github.com/Sybl-ml/mallus/pkg/transport"
)

// Dialer implements transport.Dialer over Windows named pipes.
type Dialer struct{}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindWinPipe }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	// Accept both `\\.\pipe\name` and the scheme form `./pipe/name`.
	path := address
	if len(path) > 0 && path[0] != '\\' {
		path = `\\` + `.` + `\pipe\` + trimPipePrefix(path)
	}
	c, err := winio.DialPipeContext(ctx, path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func trimPipePrefix(s string) string {
	for _, p := range []string{"./pipe/", "pipe/"} {
		if len(s) > len(p) && s[:len(p)] == p {
			return s[len(p):]
		}
	}
	return s
}
