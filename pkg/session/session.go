// Package session owns one logical connection to the coordinator, from
// transport open to teardown: handshake, capability registration, the frame
// read loop, and the single outbound writer.
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/dispatch"
	"github.com/Sybl-ml/mallus/pkg/model"
	"github.com/Sybl-ml/mallus/pkg/protocol"
	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
	"github.com/Sybl-ml/mallus/pkg/transport"
)

// ErrSessionClosed is the cause delivered to the adapter's cancellation hook
// for requests abandoned by session teardown.
var ErrSessionClosed = errors.New("session closed")

// Options configures one connection attempt.
type Options struct {
	Dialer  transport.Dialer
	Address string

	Codec      codec.Codec
	Capability protocol.Capability

	ModelID       string
	AccessToken   string
	ClientVersion string

	HandshakeTimeout    time.Duration
	RegistrationTimeout time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	DrainGrace          time.Duration
	MaxFrameBytes       int

	Dispatch dispatch.Options
	Adapter  model.Adapter
	Policy   model.RequestPolicy

	Logger *zap.Logger

	// OnActive fires once per attempt on reaching Active; the supervisor
	// uses it to reset its backoff.
	OnActive func()
}

// Session is single-owner: exactly one supervisor attempt runs it, and its
// transport and sequence counters are never shared. Create a fresh Session
// per attempt; correlation state never crosses reconnects.
type Session struct {
	opts Options
	log  *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	sessionID string

	outCh       chan protocol.Message
	writerDone  chan struct{}
	writerErr   atomic.Value // error
	stopWriter  chan struct{}
	goodbyeSent chan struct{}
	goodbyeOnce sync.Once

	stopRead  chan struct{}
	drainCh   chan struct{}
	drainOnce sync.Once
}

// New builds a session. Run performs all I/O.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatTimeout <= opts.HeartbeatInterval {
		opts.HeartbeatTimeout = 4 * opts.HeartbeatInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.RegistrationTimeout <= 0 {
		opts.RegistrationTimeout = opts.HandshakeTimeout
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = 15 * time.Second
	}
	return &Session{
		opts:        opts,
		log:         opts.Logger,
		outCh:       make(chan protocol.Message, 64),
		writerDone:  make(chan struct{}),
		stopWriter:  make(chan struct{}),
		goodbyeSent: make(chan struct{}),
		stopRead:    make(chan struct{}),
		drainCh:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// ID returns the coordinator-assigned session id, empty before handshake.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Shutdown initiates draining: no new requests are accepted, in-flight ones
// finish, Goodbye is sent, then the transport closes. Safe to call more than
// once and from any goroutine.
func (s *Session) Shutdown() {
	s.drainOnce.Do(func() { close(s.drainCh) })
}

// Run executes one connection attempt and blocks until teardown. It returns
// nil only after a clean drain; any other exit is classified per the error
// taxonomy (TransportError, ProtocolError, RegistrationRejectedError,
// GoodbyeError, or the context error on cancellation).
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	s.setState(StateConnecting)
	dialCtx, cancelDial := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	conn, err := s.opts.Dialer.Dial(dialCtx, s.opts.Address)
	cancelDial()
	if err != nil {
		return &TransportError{Op: "dial " + s.opts.Address, Err: err}
	}

	table := dispatch.New(s.opts.Dispatch, s.opts.Adapter, s.opts.Policy, s.enqueue)

	go s.writeLoop(conn)

	// Kick the reader out of a blocked Read when the caller cancels.
	stopKick := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stopKick()

	go s.drainWatcher(conn, table)

	s.setState(StateHandshaking)
	s.enqueue(&protocol.Hello{
		ClientVersion: s.opts.ClientVersion,
		ModelID:       s.opts.ModelID,
		AccessToken:   s.opts.AccessToken,
	})

	runErr := s.readLoop(ctx, conn, table)

	// Teardown order matters: both loops stop before the transport closes,
	// so nothing ever writes to a closed connection.
	close(s.stopWriter)
	_ = conn.SetReadDeadline(time.Now())
	<-s.writerDone
	table.Abort(ErrSessionClosed)
	_ = conn.Close()

	if runErr != nil {
		s.log.Warn("session ended", zap.String("state", s.State().String()), zap.Error(runErr))
	} else {
		s.log.Info("session drained", zap.String("session_id", s.ID()))
	}
	return runErr
}

// readLoop reads frames and routes them until a fatal error, cancellation, or
// drain completion. Inbound messages are processed strictly in arrival order.
func (s *Session) readLoop(ctx context.Context, conn transport.Conn, table *dispatch.Table) error {
	dec := protocol.NewDecoder(s.opts.MaxFrameBytes)
	buf := make([]byte, 32*1024)

	var lastRecvSeq uint64
	phaseStart := time.Now()

	for {
		var deadline time.Time
		switch s.State() {
		case StateHandshaking:
			deadline = phaseStart.Add(s.opts.HandshakeTimeout)
		case StateRegistered:
			deadline = phaseStart.Add(s.opts.RegistrationTimeout)
		default:
			// Any inbound frame counts as liveness; silence past the window
			// is a dead transport.
			deadline = time.Now().Add(s.opts.HeartbeatTimeout)
		}
		_ = conn.SetReadDeadline(deadline)

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				frame, derr := dec.Next()
				if errors.Is(derr, protocol.ErrIncomplete) {
					break
				}
				if derr != nil {
					return &ProtocolError{Reason: "undecodable frame", Err: derr}
				}
				msg, uerr := protocol.Unmarshal(s.opts.Codec, frame)
				if uerr != nil {
					return &ProtocolError{Reason: "undecodable message", Err: uerr}
				}
				if msg.Sequence() <= lastRecvSeq {
					return &ProtocolError{Reason: "sequence number regression"}
				}
				lastRecvSeq = msg.Sequence()
				prevState := s.State()
				if herr := s.handle(msg, table); herr != nil {
					return herr
				}
				if s.State() != prevState {
					phaseStart = time.Now()
				}
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-s.stopRead:
			return nil // drain complete
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if werr, ok := s.writerErr.Load().(error); ok && werr != nil {
			return &TransportError{Op: "write", Err: werr}
		}

		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			switch s.State() {
			case StateHandshaking:
				return &TransportError{Op: "handshake", Err: ErrHandshakeTimeout}
			case StateRegistered:
				return &TransportError{Op: "registration", Err: ErrHandshakeTimeout}
			default:
				return &TransportError{Op: "read", Err: ErrHeartbeatTimeout}
			}
		}
		return &TransportError{Op: "read", Err: err}
	}
}

// handle applies one inbound message to the state machine. Message types that
// are invalid in the current state are protocol errors.
func (s *Session) handle(msg protocol.Message, table *dispatch.Table) error {
	switch s.State() {
	case StateHandshaking:
		switch m := msg.(type) {
		case *protocol.HelloAck:
			s.mu.Lock()
			s.sessionID = m.SessionID
			s.mu.Unlock()
			s.setState(StateRegistered)
			s.log.Debug("authenticated", zap.String("session_id", m.SessionID))
			s.enqueue(&protocol.Registration{Capability: s.opts.Capability})
			return nil
		case *protocol.Goodbye:
			return &GoodbyeError{Reason: m.Reason}
		default:
			return s.unexpected(msg)
		}

	case StateRegistered:
		switch m := msg.(type) {
		case *protocol.RegistrationAck:
			if !m.Accepted {
				return &RegistrationRejectedError{Reason: m.Reason}
			}
			s.setState(StateActive)
			s.log.Info("registered with coordinator",
				zap.String("session_id", s.ID()),
				zap.String("capability", s.opts.Capability.String()))
			if s.opts.OnActive != nil {
				s.opts.OnActive()
			}
			return nil
		case *protocol.Heartbeat:
			return nil
		case *protocol.Goodbye:
			return &GoodbyeError{Reason: m.Reason}
		default:
			return s.unexpected(msg)
		}

	case StateActive, StateDraining:
		switch m := msg.(type) {
		case *protocol.ExecutionRequest:
			if err := table.Submit(m); errors.Is(err, dispatch.ErrDraining) {
				s.log.Debug("request refused while draining", zap.Uint64("correlation_id", m.ID))
			}
			return nil
		case *protocol.Heartbeat:
			return nil
		case *protocol.Goodbye:
			return &GoodbyeError{Reason: m.Reason}
		default:
			return s.unexpected(msg)
		}

	default:
		return s.unexpected(msg)
	}
}

func (s *Session) unexpected(msg protocol.Message) error {
	return &ProtocolError{
		Reason: protocol.TypeName(msg.Type()) + " not valid in state " + s.State().String(),
	}
}

// enqueue places a message on the outbound queue. It blocks while the queue
// is full (backpressure onto workers) and reports false once the writer has
// exited, at which point the message is dropped rather than written to a
// dying transport.
func (s *Session) enqueue(m protocol.Message) bool {
	select {
	case <-s.writerDone:
		return false
	default:
	}
	select {
	case s.outCh <- m:
		return true
	case <-s.writerDone:
		return false
	}
}

// writeLoop is the session's only transport writer: outbound messages go out
// strictly in enqueue order, so sequence numbers strictly increase. It also
// emits a Heartbeat whenever nothing else was sent within the interval.
func (s *Session) writeLoop(conn transport.Conn) {
	defer close(s.writerDone)

	var seq uint64
	hb := time.NewTimer(s.opts.HeartbeatInterval)
	defer hb.Stop()

	write := func(m protocol.Message) bool {
		seq++
		protocol.Stamp(m, seq)
		frame, err := protocol.Marshal(s.opts.Codec, m)
		if err == nil {
			var wire []byte
			wire, err = protocol.EncodeFrame(frame, s.opts.MaxFrameBytes)
			if err == nil {
				_ = conn.SetWriteDeadline(time.Now().Add(s.opts.HeartbeatTimeout))
				_, err = conn.Write(wire)
			}
		}
		if err != nil {
			s.writerErr.Store(err)
			// Kick the reader so teardown starts promptly.
			_ = conn.SetReadDeadline(time.Now())
			return false
		}
		if m.Type() == protocol.MsgGoodbye {
			s.goodbyeOnce.Do(func() { close(s.goodbyeSent) })
		}
		if !hb.Stop() {
			select {
			case <-hb.C:
			default:
			}
		}
		hb.Reset(s.opts.HeartbeatInterval)
		return true
	}

	for {
		select {
		case <-s.stopWriter:
			return
		case m := <-s.outCh:
			if !write(m) {
				return
			}
		case <-hb.C:
			st := s.State()
			if st == StateActive || st == StateDraining {
				if !write(&protocol.Heartbeat{}) {
					return
				}
			} else {
				hb.Reset(s.opts.HeartbeatInterval)
			}
		}
	}
}

// drainWatcher runs the orderly shutdown once Shutdown is called: intake
// closes, in-flight requests finish (bounded by the drain grace), Goodbye is
// flushed, then the reader is released.
func (s *Session) drainWatcher(conn transport.Conn, table *dispatch.Table) {
	select {
	case <-s.drainCh:
	case <-s.writerDone:
		return
	}

	s.setState(StateDraining)
	graceCtx, cancel := context.WithTimeout(context.Background(), s.opts.DrainGrace)
	defer cancel()

	if err := table.Drain(graceCtx); err != nil {
		s.log.Warn("drain grace expired, abandoning in-flight requests", zap.Error(err))
	}

	s.enqueue(&protocol.Goodbye{Reason: "client shutdown"})
	select {
	case <-s.goodbyeSent:
	case <-s.writerDone:
	case <-graceCtx.Done():
	}

	close(s.stopRead)
	_ = conn.SetReadDeadline(time.Now())
}
