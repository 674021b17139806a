// Package tcp dials the coordinator over plain TCP.
package tcp

import (
	"context"
	"net"
	"time"

	"github.com/Sybl-ml/mallus/pkg/transport"
)

// Dialer implements transport.Dialer over TCP with keep-alive enabled.
type Dialer struct {
	// KeepAlive overrides the probe interval; zero keeps the OS default.
	KeepAlive time.Duration
}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindTCP }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	nd := &net.Dialer{KeepAlive: d.KeepAlive}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
