package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/config"
	"github.com/Sybl-ml/mallus/pkg/dispatch"
	"github.com/Sybl-ml/mallus/pkg/session"
)

// backoffState tracks the supervisor's retry delay across attempts. The
// delay doubles per consecutive failure up to the ceiling and resets to the
// base once a session reaches Active.
type backoffState struct {
	initial time.Duration
	max     time.Duration
	jitter  time.Duration
	current time.Duration
}

func newBackoffState(cfg config.ReconnectConfig) backoffState {
	b := backoffState{
		initial: cfg.BackoffInitial,
		max:     cfg.BackoffMax,
		jitter:  cfg.BackoffJitter,
	}
	if b.initial <= 0 {
		b.initial = 500 * time.Millisecond
	}
	if b.max < b.initial {
		b.max = b.initial
	}
	b.current = b.initial
	return b
}

// next returns the delay to wait before the upcoming attempt and advances
// the schedule.
func (b *backoffState) next() time.Duration {
	d := b.current
	if b.current < b.max {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	return withJitter(d, b.jitter)
}

func (b *backoffState) reset() { b.current = b.initial }

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	// add random 0..jitter
	n := time.Now().UnixNano()
	return d + time.Duration(n%int64(jitter))
}

// supervise owns the session lifecycle: it runs one session at a time,
// recreating it after failures with the current backoff, and never overlaps
// two sessions. The old session is fully torn down before a new one starts
// because Run does not return until teardown completes.
func (c *Client) supervise(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		sess := c.newSession()
		c.mu.Lock()
		if c.stopping {
			c.mu.Unlock()
			return
		}
		c.cur = sess
		c.status.Err = nil
		c.mu.Unlock()

		err := sess.Run(ctx)

		c.mu.Lock()
		c.cur = nil
		c.status.State = session.StateDisconnected
		c.status.Err = err
		c.mu.Unlock()

		if err == nil {
			// Clean drain only happens on Stop.
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		var rej *session.RegistrationRejectedError
		if errors.As(err, &rej) {
			rej.Permanent = c.isPermanentRejection(rej.Reason)
			if rej.Permanent {
				c.log.Error("registration rejected permanently, giving up",
					zap.String("reason", rej.Reason))
				c.setStatus(func(s *Status) { s.Err = rej; s.Terminal = true })
				return
			}
		}

		c.mu.Lock()
		delay := c.backoff.next()
		c.mu.Unlock()
		c.log.Warn("session failed, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Client) newSession() *session.Session {
	return session.New(session.Options{
		Dialer:  c.dialer,
		Address: c.endpoint,

		Codec:      c.wire,
		Capability: c.adapter.Describe(),

		ModelID:       c.cfg.Coordinator.ModelID,
		AccessToken:   c.cfg.Coordinator.AccessToken,
		ClientVersion: Version,

		HandshakeTimeout:    c.cfg.Session.HandshakeTimeout,
		RegistrationTimeout: c.cfg.Session.RegistrationTimeout,
		HeartbeatInterval:   c.cfg.Session.HeartbeatInterval,
		HeartbeatTimeout:    c.cfg.Session.HeartbeatTimeout,
		DrainGrace:          c.cfg.Session.DrainGrace,
		MaxFrameBytes:       c.cfg.Session.MaxFrameBytes,

		Dispatch: dispatch.Options{
			Workers:            c.cfg.Dispatch.Workers,
			QueueSize:          c.cfg.Dispatch.QueueSize,
			CompletedRetention: c.cfg.Dispatch.CompletedRetention,
			Logger:             c.log,
		},
		Adapter: c.adapter,
		Policy:  c.policy,

		Logger: c.log,
		OnActive: func() {
			c.mu.Lock()
			c.backoff.reset()
			c.mu.Unlock()
		},
	})
}

// isPermanentRejection consults the configured reason table. The coordinator
// contract for rejection reasons is loose, so substring matching keeps the
// table forgiving about phrasing.
func (c *Client) isPermanentRejection(reason string) bool {
	r := strings.ToLower(reason)
	for _, p := range c.cfg.Reconnect.PermanentReasons {
		if p != "" && strings.Contains(r, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
