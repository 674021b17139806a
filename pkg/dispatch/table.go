// Package dispatch tracks in-flight execution requests and runs them on a
// bounded worker pool, guaranteeing at most one adapter invocation and at
// most one outbound result per correlation id per session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/model"
	"github.com/Sybl-ml/mallus/pkg/protocol"
)

// PendingState tracks one request through its lifecycle.
type PendingState uint8

const (
	StateQueued PendingState = iota
	StateExecuting
	StateCompleted
	StateFailed
)

// ErrDraining is returned by Submit once intake has closed.
var ErrDraining = errors.New("dispatch: draining, not accepting requests")

// pending is owned exclusively by the Table; state transitions happen under
// the table lock.
type pending struct {
	req        *protocol.ExecutionRequest
	state      PendingState
	receivedAt time.Time
	deadline   time.Time
}

// Options sizes the table.
type Options struct {
	Workers            int
	QueueSize          int
	CompletedRetention time.Duration
	Logger             *zap.Logger
}

// Table maps correlation ids to pending executions. The session reader loop
// submits; workers complete. Both sides synchronise on the table lock, the
// only structure shared between them.
type Table struct {
	log       *zap.Logger
	adapter   model.Adapter
	policy    model.RequestPolicy
	send      func(protocol.Message) bool
	retention time.Duration

	ctx    context.Context
	cancel context.CancelCauseFunc
	queue  chan *pending
	wg     sync.WaitGroup

	mu           sync.Mutex
	cond         *sync.Cond
	pendings     map[uint64]*pending
	completed    map[uint64]time.Time
	intakeClosed bool
}

// New builds the table and starts its workers. send enqueues an outbound
// message on the session writer; it returns false once the writer is gone.
func New(opts Options, adapter model.Adapter, policy model.RequestPolicy, send func(protocol.Message) bool) *Table {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	t := &Table{
		log:       opts.Logger,
		adapter:   adapter,
		policy:    policy,
		send:      send,
		retention: opts.CompletedRetention,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan *pending, opts.QueueSize),
		pendings:  make(map[uint64]*pending),
		completed: make(map[uint64]time.Time),
	}
	t.cond = sync.NewCond(&t.mu)
	for i := 0; i < opts.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

// Submit schedules one inbound request. Duplicates of a correlation id that
// is queued, executing or already completed are dropped without re-execution.
// A full queue fails the request locally with a busy error.
func (t *Table) Submit(req *protocol.ExecutionRequest) error {
	t.mu.Lock()
	if t.intakeClosed {
		t.mu.Unlock()
		return ErrDraining
	}
	t.pruneCompletedLocked()
	if _, dup := t.pendings[req.ID]; dup {
		t.mu.Unlock()
		t.log.Debug("duplicate request ignored", zap.Uint64("correlation_id", req.ID))
		return nil
	}
	if _, done := t.completed[req.ID]; done {
		t.mu.Unlock()
		t.log.Debug("request already completed, ignored", zap.Uint64("correlation_id", req.ID))
		return nil
	}
	p := &pending{req: req, state: StateQueued, receivedAt: time.Now()}
	if req.DeadlineUnixMS > 0 {
		p.deadline = time.UnixMilli(req.DeadlineUnixMS)
	}
	t.pendings[req.ID] = p
	t.mu.Unlock()

	select {
	case t.queue <- p:
		return nil
	default:
		t.failLocally(p, protocol.CodeBusy, "execution queue full")
		return nil
	}
}

// Pending reports how many requests are queued or executing.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendings)
}

// CloseIntake stops accepting new requests; in-flight ones keep running.
func (t *Table) CloseIntake() {
	t.mu.Lock()
	t.intakeClosed = true
	t.mu.Unlock()
}

// Drain closes intake and waits for every pending request to resolve, or for
// ctx to expire.
func (t *Table) Drain(ctx context.Context) error {
	t.CloseIntake()
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pendings) > 0 && ctx.Err() == nil {
		t.cond.Wait()
	}
	if len(t.pendings) > 0 {
		return fmt.Errorf("dispatch: drain interrupted with %d requests in flight: %w", len(t.pendings), ctx.Err())
	}
	return nil
}

// Abort resolves every request still queued or executing with the given
// cause, notifies the adapter's cancellation hook if it has one, and stops
// the workers. No result is sent for aborted requests.
func (t *Table) Abort(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	t.cancel(cause)

	t.mu.Lock()
	canceller, hasHook := t.adapter.(model.Canceller)
	ids := make([]uint64, 0, len(t.pendings))
	for id, p := range t.pendings {
		p.state = StateFailed
		ids = append(ids, id)
	}
	t.pendings = make(map[uint64]*pending)
	t.cond.Broadcast()
	t.mu.Unlock()

	if hasHook {
		for _, id := range ids {
			canceller.Cancel(id, cause)
		}
	}
	t.wg.Wait()
}

func (t *Table) worker() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case p := <-t.queue:
			t.run(p)
		}
	}
}

func (t *Table) run(p *pending) {
	t.mu.Lock()
	if p.state != StateQueued {
		t.mu.Unlock()
		return
	}
	if !p.deadline.IsZero() && time.Now().After(p.deadline) {
		t.mu.Unlock()
		t.failLocally(p, protocol.CodeTimeout, "deadline elapsed before execution started")
		return
	}
	p.state = StateExecuting
	t.mu.Unlock()

	req := p.req
	if t.policy != nil {
		if err := t.policy.Accept(req.Meta); err != nil {
			t.failLocally(p, protocol.CodeRejected, err.Error())
			return
		}
	}

	input, err := protocol.DecodePayload(req.Encoding, req.Input)
	if err != nil {
		t.failLocally(p, protocol.CodeAdapter, err.Error())
		return
	}

	ctx := t.ctx
	if !p.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, p.deadline)
		defer cancel()
	}

	out, err := t.adapter.Execute(ctx, model.Input{
		CorrelationID: req.ID,
		Data:          input,
		Meta:          req.Meta,
		Deadline:      p.deadline,
	})

	if t.ctx.Err() != nil {
		// Session torn down mid-execution; Abort already resolved the entry
		// and nothing may be written to the dead transport.
		return
	}
	if err != nil {
		code := protocol.CodeAdapter
		if errors.Is(err, context.DeadlineExceeded) {
			code = protocol.CodeTimeout
		}
		t.failLocally(p, code, err.Error())
		return
	}

	encoded, err := protocol.EncodePayload(req.Encoding, out)
	if err != nil {
		t.failLocally(p, protocol.CodeAdapter, err.Error())
		return
	}
	if !t.resolve(p, StateCompleted) {
		return
	}
	t.send(&protocol.ExecutionResult{ID: req.ID, Encoding: req.Encoding, Output: encoded})
}

// failLocally resolves a request with an ExecutionError without invoking the
// adapter again.
func (t *Table) failLocally(p *pending, code, msg string) {
	if !t.resolve(p, StateFailed) {
		return
	}
	t.log.Debug("request failed locally",
		zap.Uint64("correlation_id", p.req.ID),
		zap.String("code", code),
		zap.String("reason", msg))
	t.send(&protocol.ExecutionError{ID: p.req.ID, Code: code, Message: msg})
}

// resolve performs the final state transition exactly once. It reports false
// when the request was already resolved (e.g. by Abort).
func (t *Table) resolve(p *pending, final PendingState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.state == StateCompleted || p.state == StateFailed {
		return false
	}
	if _, ok := t.pendings[p.req.ID]; !ok {
		return false
	}
	p.state = final
	delete(t.pendings, p.req.ID)
	t.completed[p.req.ID] = time.Now()
	t.cond.Broadcast()
	return true
}

// pruneCompletedLocked drops completed ids past the retention window. Called
// with the lock held on the submit path, which keeps the map bounded without
// a janitor goroutine.
func (t *Table) pruneCompletedLocked() {
	if len(t.completed) == 0 {
		return
	}
	cutoff := time.Now().Add(-t.retention)
	for id, done := range t.completed {
		if done.Before(cutoff) {
			delete(t.completed, id)
		}
	}
}
