// Package mem is an in-process transport over net.Pipe. It backs tests and
// lets a coordinator stub run in the same process as the client.
package mem

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Sybl-ml/mallus/pkg/transport"
)

// Registry holds named in-process endpoints. Each Registry is independent, so
// tests can run several client/coordinator pairs side by side.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func NewRegistry() *Registry { return &Registry{listeners: make(map[string]*listener)} }

// Listen claims a named endpoint. The name takes the place of host:port.
func (r *Registry) Listen(ctx context.Context, name string) (transport.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{name: name, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
	r.listeners[name] = l
	go func() {
		<-ctx.Done()
		_ = l.Close()
		r.mu.Lock()
		delete(r.listeners, name)
		r.mu.Unlock()
	}()
	return l, nil
}

// Dialer returns a transport.Dialer bound to this registry.
func (r *Registry) Dialer() transport.Dialer { return &dialer{reg: r} }

type dialer struct{ reg *Registry }

func (d *dialer) Kind() transport.Kind { return transport.KindMem }

func (d *dialer) Dial(ctx context.Context, name string) (transport.Conn, error) {
	d.reg.mu.Lock()
	l := d.reg.listeners[name]
	d.reg.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener: " + name)
	}
	c1, c2 := net.Pipe()
	select {
	case l.newCh <- c1:
	case <-l.closeCh:
		_ = c1.Close()
		_ = c2.Close()
		return nil, errors.New("mem: listener closed")
	case <-ctx.Done():
		_ = c1.Close()
		_ = c2.Close()
		return nil, ctx.Err()
	}
	return c2, nil
}

type listener struct {
	name      string
	newCh     chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
