// Package transport abstracts the byte stream between the client and the
// coordinator. Transports carry opaque bytes; protocol framing is layered on
// top by the session, so any reliable stream can serve.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind identifies the link type used to reach the coordinator.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindWinPipe
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindWinPipe:
		return "winpipe"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// Conn is one established stream to the coordinator. Exactly one reader and
// one writer goroutine are expected; Close may be called from any goroutine
// and unblocks both.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer creates outbound connections for a specific link kind.
type Dialer interface {
	Kind() Kind
	Dial(ctx context.Context, address string) (Conn, error)
}

// Listener accepts inbound connections. Only the in-process transport
// implements it here; it exists so tests can stand up a coordinator endpoint.
type Listener interface {
	// Accept blocks until an inbound connection is available or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// ParseAddress splits a coordinator address into its scheme and endpoint.
// A bare host:port is treated as tcp.
func ParseAddress(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", fmt.Errorf("empty coordinator address")
	}
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme := strings.ToLower(addr[:i])
		rest := addr[i+3:]
		if rest == "" {
			return "", "", fmt.Errorf("coordinator address %q has no endpoint", addr)
		}
		return scheme, rest, nil
	}
	return "tcp", addr, nil
}
