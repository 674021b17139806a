//go:build !windows

// Package winpipe dials a coordinator exposed on a local Windows named pipe.
// On other platforms the dialer is unavailable.
package winpipe

import (
	"context"
	"errors"

	"github.com/Sybl-ml/mallus/pkg/transport"
)

type Dialer struct{}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindWinPipe }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	return nil, errors.New("winpipe transport is not supported on this platform")
}
