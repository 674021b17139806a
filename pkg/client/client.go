// Package client is the public entry point: it composes the reconnect
// supervisor, sessions, and the model adapter into a single start/stop
// surface.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/auth"
	"github.com/Sybl-ml/mallus/pkg/config"
	"github.com/Sybl-ml/mallus/pkg/model"
	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
	"github.com/Sybl-ml/mallus/pkg/session"
	"github.com/Sybl-ml/mallus/pkg/transport"
	"github.com/Sybl-ml/mallus/pkg/transport/quic"
	"github.com/Sybl-ml/mallus/pkg/transport/tcp"
	"github.com/Sybl-ml/mallus/pkg/transport/winpipe"
)

// Version is announced in the Hello message.
const Version = "0.3.0"

// Status reflects the client as seen from outside.
type Status struct {
	// State mirrors the current session's lifecycle state.
	State session.State
	// Err is the last fatal reason, nil while healthy.
	Err error
	// Terminal marks a failure that stops reconnection, such as a permanent
	// registration rejection. Operator intervention is required.
	Terminal bool
}

// Client runs the model adapter against a Sybl coordinator, reconnecting
// until stopped. Multiple independent clients can run in one process; no
// state is shared between them.
type Client struct {
	cfg      *config.Config
	adapter  model.Adapter
	policy   model.RequestPolicy
	dialer   transport.Dialer
	endpoint string
	registry *codec.Registry
	wire     codec.Codec
	log      *zap.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	cur      *session.Session
	status   Status
	backoff  backoffState

	cancelRun context.CancelFunc
	stopCh    chan struct{}
	done      chan struct{}
}

// Option customises construction.
type Option func(*Client)

// WithDialer overrides transport selection, e.g. to inject an in-process
// transport in tests.
func WithDialer(d transport.Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithLogger sets the logger; zap.L() is used otherwise.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithPolicy sets the request acceptance policy. The default accepts
// regression and classification jobs within a ten minute budget.
func WithPolicy(p model.RequestPolicy) Option { return func(c *Client) { c.policy = p } }

// New validates configuration and credentials and builds a client. The
// adapter's capability descriptor is fixed here; re-registration across
// reconnects always reuses it.
func New(cfg *config.Config, adapter model.Adapter, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: nil config")
	}
	if adapter == nil {
		return nil, errors.New("client: nil adapter")
	}

	c := &Client{
		cfg:      cfg,
		adapter:  adapter,
		policy:   model.DefaultPolicy(),
		registry: codec.NewRegistry(),
		wire:     codec.JSON(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cb, err := codec.CBOR(); err == nil {
		c.registry.Register(cb)
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.L()
	}

	if c.cfg.Coordinator.AccessToken == "" {
		creds, err := auth.NewStore("").Load(cfg.Model.Email, cfg.Model.Name)
		if err != nil {
			return nil, fmt.Errorf("client: load credentials for %s.%s: %w", cfg.Model.Email, cfg.Model.Name, err)
		}
		c.cfg.Coordinator.AccessToken = creds.AccessToken
		c.cfg.Coordinator.ModelID = creds.ModelID
	}

	scheme, endpoint, err := transport.ParseAddress(cfg.Coordinator.Address)
	if err != nil {
		return nil, err
	}
	if c.dialer == nil {
		d, err := dialerFor(scheme)
		if err != nil {
			return nil, err
		}
		c.dialer = d
	}
	c.endpoint = endpoint

	c.backoff = newBackoffState(cfg.Reconnect)
	return c, nil
}

// PayloadCodec returns the codec implied by the adapter's capability schema
// tag, for adapters that marshal structured datasets.
func (c *Client) PayloadCodec() codec.Codec {
	return c.registry.ForSchemaTag(c.adapter.Describe().SchemaTag)
}

// Start launches the reconnect supervisor. Cancelling ctx force-stops the
// client; use Stop for an orderly drain.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("client: already started")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	go c.supervise(runCtx)
	return nil
}

// Stop drains the current session, waits for disconnection or ctx expiry,
// then forces the transport closed. It is idempotent.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	first := !c.stopping
	c.stopping = true
	cur := c.cur
	c.mu.Unlock()

	if first {
		close(c.stopCh)
		if cur != nil {
			cur.Shutdown()
		}
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		cancel := c.cancelRun
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-c.done
		return ctx.Err()
	}
}

// Status reports the current state and the last fatal error.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if c.cur != nil {
		st.State = c.cur.State()
	}
	return st
}

func (c *Client) setStatus(upd func(*Status)) {
	c.mu.Lock()
	upd(&c.status)
	c.mu.Unlock()
}

func dialerFor(scheme string) (transport.Dialer, error) {
	switch scheme {
	case "tcp":
		return tcp.New(), nil
	case "quic":
		return quic.New(nil), nil
	case "winpipe", "pipe":
		return winpipe.New(), nil
	case "mem", "inproc":
		return nil, errors.New("client: mem transport requires WithDialer")
	default:
		return nil, fmt.Errorf("client: unknown transport scheme %q", scheme)
	}
}
