// Package quic dials the coordinator over QUIC, using a single bidirectional
// stream as the session's byte stream.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/Sybl-ml/mallus/pkg/transport"
)

const alpnProtocol = "sybl"

// Dialer implements transport.Dialer over QUIC.
type Dialer struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New builds a QUIC dialer. A nil tlsConf gets a client config that skips
// certificate verification; the access token in Hello authenticates the
// session at the application layer either way.
func New(tlsConf *tls.Config) *Dialer {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{alpnProtocol}
	}
	if tlsConf.MinVersion == 0 {
		tlsConf.MinVersion = tls.VersionTLS13
	}
	return &Dialer{tlsConf: tlsConf, quicConf: &quicgo.Config{}}
}

func (d *Dialer) Kind() transport.Kind { return transport.KindQUIC }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	c, err := quicgo.DialAddr(ctx, address, d.tlsConf, d.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &conn{c: c, st: st}, nil
}

// conn adapts one QUIC stream plus its connection to transport.Conn.
type conn struct {
	c  quicgo.Connection
	st quicgo.Stream
}

func (c *conn) Read(p []byte) (int, error)  { return c.st.Read(p) }
func (c *conn) Write(p []byte) (int, error) { return c.st.Write(p) }

func (c *conn) Close() error {
	_ = c.st.Close()
	return c.c.CloseWithError(0, "")
}

func (c *conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

func (c *conn) SetReadDeadline(t time.Time) error  { return c.st.SetReadDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.st.SetWriteDeadline(t) }
