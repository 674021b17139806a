package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/config"
	"github.com/Sybl-ml/mallus/pkg/model"
	"github.com/Sybl-ml/mallus/pkg/protocol"
	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
	"github.com/Sybl-ml/mallus/pkg/session"
	"github.com/Sybl-ml/mallus/pkg/transport"
	"github.com/Sybl-ml/mallus/pkg/transport/mem"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Coordinator.Address = "mem://coord"
	cfg.Coordinator.AccessToken = "tok-1"
	cfg.Coordinator.ModelID = "m-1"
	cfg.Model.Email = "dev@example.com"
	cfg.Model.Name = "echo"
	cfg.Session.HandshakeTimeout = 2 * time.Second
	cfg.Session.RegistrationTimeout = 2 * time.Second
	cfg.Session.HeartbeatInterval = 100 * time.Millisecond
	cfg.Session.HeartbeatTimeout = 2 * time.Second
	cfg.Session.DrainGrace = 2 * time.Second
	cfg.Reconnect.BackoffInitial = 10 * time.Millisecond
	cfg.Reconnect.BackoffMax = 50 * time.Millisecond
	cfg.Reconnect.BackoffJitter = 0
	return cfg
}

func echoAdapter() model.Adapter {
	return model.ExecuteFunc{
		Capability: model.Capability{Name: "echo", Version: "1", SchemaTag: "tabular.v1+json"},
		Func: func(ctx context.Context, in model.Input) ([]byte, error) {
			return in.Data, nil
		},
	}
}

// coordConn wraps one accepted connection with framing helpers.
type coordConn struct {
	conn transport.Conn
	dec  *protocol.Decoder
	c    codec.Codec
	seq  uint64
}

func (cc *coordConn) recv() (protocol.Message, error) {
	buf := make([]byte, 4096)
	for {
		if f, err := cc.dec.Next(); err == nil {
			return protocol.Unmarshal(cc.c, f)
		}
		n, err := cc.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		cc.dec.Push(buf[:n])
	}
}

func (cc *coordConn) expect(tag uint8) (protocol.Message, error) {
	for {
		m, err := cc.recv()
		if err != nil {
			return nil, err
		}
		if m.Type() == protocol.MsgHeartbeat {
			continue
		}
		if m.Type() != tag {
			return nil, fmt.Errorf("got %s, want %s", protocol.TypeName(m.Type()), protocol.TypeName(tag))
		}
		return m, nil
	}
}

func (cc *coordConn) send(m protocol.Message) error {
	cc.seq++
	protocol.Stamp(m, cc.seq)
	f, err := protocol.Marshal(cc.c, m)
	if err != nil {
		return err
	}
	wire, err := protocol.EncodeFrame(f, 0)
	if err != nil {
		return err
	}
	_, err = cc.conn.Write(wire)
	return err
}

// startCoord serves connections sequentially, running fn on each until ctx
// ends.
func startCoord(t *testing.T, ctx context.Context, fn func(cc *coordConn) error) transport.Dialer {
	t.Helper()
	reg := mem.NewRegistry()
	ln, err := reg.Listen(ctx, "coord")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			if err := fn(&coordConn{conn: conn, dec: protocol.NewDecoder(0), c: codec.JSON()}); err != nil && ctx.Err() == nil {
				t.Errorf("coordinator stub: %v", err)
			}
			_ = conn.Close()
		}
	}()
	return reg.Dialer()
}

// countingDialer counts connection attempts.
type countingDialer struct {
	inner transport.Dialer
	n     atomic.Int32
}

func (d *countingDialer) Kind() transport.Kind { return d.inner.Kind() }

func (d *countingDialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	d.n.Add(1)
	return d.inner.Dial(ctx, addr)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoffSchedule(t *testing.T) {
	b := newBackoffState(config.ReconnectConfig{
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     time.Second,
	})
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}
	b.reset()
	if got := b.next(); got != 100*time.Millisecond {
		t.Fatalf("after reset: delay = %v", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := newBackoffState(config.ReconnectConfig{
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     time.Second,
		BackoffJitter:  50 * time.Millisecond,
	})
	d := b.next()
	if d < 100*time.Millisecond || d >= 150*time.Millisecond {
		t.Fatalf("jittered delay %v outside [100ms, 150ms)", d)
	}
}

func TestIsPermanentRejection(t *testing.T) {
	c, err := New(testConfig(), echoAdapter(), WithDialer(mem.NewRegistry().Dialer()), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !c.isPermanentRejection("Unknown Model: echo") {
		t.Fatalf("case-insensitive substring match failed")
	}
	if c.isPermanentRejection("coordinator overloaded") {
		t.Fatalf("unlisted reason classified permanent")
	}
}

func TestStartStopHappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialer := startCoord(t, ctx, func(cc *coordConn) error {
		if _, err := cc.expect(protocol.MsgHello); err != nil {
			return err
		}
		if err := cc.send(&protocol.HelloAck{SessionID: "s-1"}); err != nil {
			return err
		}
		if _, err := cc.expect(protocol.MsgRegistration); err != nil {
			return err
		}
		if err := cc.send(&protocol.RegistrationAck{Accepted: true}); err != nil {
			return err
		}
		_, err := cc.expect(protocol.MsgGoodbye)
		return err
	})

	c, err := New(testConfig(), echoAdapter(), WithDialer(dialer), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Fatalf("second start accepted")
	}

	waitFor(t, "active state", func() bool { return c.Status().State == session.StateActive })

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	st := c.Status()
	if st.Err != nil || st.Terminal {
		t.Fatalf("status after clean stop = %+v", st)
	}
}

func TestReconnectAfterTransportFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// No listener exists, so every dial fails.
	dialer := &countingDialer{inner: mem.NewRegistry().Dialer()}
	c, err := New(testConfig(), echoAdapter(), WithDialer(dialer), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "retries", func() bool { return dialer.n.Load() >= 3 })

	st := c.Status()
	if st.Terminal {
		t.Fatalf("transport failure marked terminal")
	}
	var te *session.TransportError
	if st.Err == nil || !errors.As(st.Err, &te) {
		t.Fatalf("status err = %v, want TransportError", st.Err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPermanentRejectionStopsReconnecting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inner := startCoord(t, ctx, func(cc *coordConn) error {
		if _, err := cc.expect(protocol.MsgHello); err != nil {
			return err
		}
		if err := cc.send(&protocol.HelloAck{SessionID: "s-1"}); err != nil {
			return err
		}
		if _, err := cc.expect(protocol.MsgRegistration); err != nil {
			return err
		}
		return cc.send(&protocol.RegistrationAck{Accepted: false, Reason: "unknown model"})
	})
	dialer := &countingDialer{inner: inner}

	c, err := New(testConfig(), echoAdapter(), WithDialer(dialer), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "terminal status", func() bool { return c.Status().Terminal })

	var rej *session.RegistrationRejectedError
	if st := c.Status(); !errors.As(st.Err, &rej) || !rej.Permanent {
		t.Fatalf("status err = %v, want permanent rejection", st.Err)
	}

	// The supervisor must not try again after a permanent rejection.
	attempts := dialer.n.Load()
	time.Sleep(300 * time.Millisecond)
	if got := dialer.n.Load(); got != attempts {
		t.Fatalf("reconnected after permanent rejection: %d -> %d attempts", attempts, got)
	}
	if attempts != 1 {
		t.Fatalf("dial attempts = %d, want 1", attempts)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRetryableRejectionReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var served atomic.Int32
	inner := startCoord(t, ctx, func(cc *coordConn) error {
		n := served.Add(1)
		if _, err := cc.expect(protocol.MsgHello); err != nil {
			return err
		}
		if err := cc.send(&protocol.HelloAck{SessionID: fmt.Sprintf("s-%d", n)}); err != nil {
			return err
		}
		if _, err := cc.expect(protocol.MsgRegistration); err != nil {
			return err
		}
		if n < 3 {
			return cc.send(&protocol.RegistrationAck{Accepted: false, Reason: "coordinator overloaded"})
		}
		if err := cc.send(&protocol.RegistrationAck{Accepted: true}); err != nil {
			return err
		}
		_, err := cc.expect(protocol.MsgGoodbye)
		return err
	})

	c, err := New(testConfig(), echoAdapter(), WithDialer(inner), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "active after retries", func() bool { return c.Status().State == session.StateActive })
	if served.Load() != 3 {
		t.Fatalf("served %d sessions, want 3", served.Load())
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPayloadCodecFollowsSchemaTag(t *testing.T) {
	adapter := model.ExecuteFunc{
		Capability: model.Capability{Name: "c", Version: "1", SchemaTag: "tabular.v1+cbor"},
		Func:       func(ctx context.Context, in model.Input) ([]byte, error) { return nil, nil },
	}
	c, err := New(testConfig(), adapter, WithDialer(mem.NewRegistry().Dialer()), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.PayloadCodec().ContentType(); got != "application/cbor" {
		t.Fatalf("payload codec = %s", got)
	}
}
