package session

import (
	"errors"
	"fmt"
)

// TransportError covers connection-level failures: refused dials, resets,
// timed-out heartbeats. Always fatal to the session and always retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError covers malformed frames and messages that are invalid in the
// current state. The stream cannot be resynchronised, so it is fatal to the
// session; the supervisor reconnects.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RegistrationRejectedError reports a RegistrationAck with accepted=false.
// Permanent is classified by the supervisor's policy table; a permanent
// rejection stops reconnecting entirely.
type RegistrationRejectedError struct {
	Reason    string
	Permanent bool
}

func (e *RegistrationRejectedError) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("registration rejected (%s): %s", kind, e.Reason)
}

// ErrHeartbeatTimeout marks inbound silence past the configured window.
var ErrHeartbeatTimeout = errors.New("no inbound message within heartbeat timeout")

// ErrHandshakeTimeout marks a coordinator that never finished the handshake.
var ErrHandshakeTimeout = errors.New("handshake timed out")

// GoodbyeError reports an orderly close initiated by the coordinator.
type GoodbyeError struct {
	Reason string
}

func (e *GoodbyeError) Error() string { return "coordinator said goodbye: " + e.Reason }
