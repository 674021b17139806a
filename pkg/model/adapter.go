// Package model defines the boundary the user's model logic implements.
package model

import (
	"context"
	"time"

	"github.com/Sybl-ml/mallus/pkg/protocol"
)

// Capability is an alias to protocol.Capability for API ergonomics.
type Capability = protocol.Capability

// Input is one decoded unit of work handed to an adapter. Data has already
// had its payload encoding reversed.
type Input struct {
	// CorrelationID links the input to the result the coordinator expects.
	CorrelationID uint64

	// Data is the raw input payload, decoded per the request's encoding.
	Data []byte

	// Meta carries coordinator-supplied request metadata such as the
	// prediction type and job timestamps.
	Meta map[string]string

	// Deadline is the coordinator's cutoff for this request; zero when the
	// request carries none.
	Deadline time.Time
}

// Adapter is implemented by the hosted model. Execute may be invoked
// concurrently for different correlation ids and must not assume serialized
// invocation. An Execute error is reported to the coordinator as an execution
// error, never as a transport fault.
type Adapter interface {
	// Describe returns the capability descriptor announced at registration.
	// It must return the same descriptor for the life of the client.
	Describe() Capability

	// Execute runs the model against one input and returns the output
	// payload. The context is cancelled when the request deadline passes or
	// the session shuts down.
	Execute(ctx context.Context, in Input) ([]byte, error)
}

// Canceller is optionally implemented by adapters that want to observe
// requests being abandoned while queued or executing.
type Canceller interface {
	Cancel(correlationID uint64, cause error)
}

// ExecuteFunc adapts a plain function to Adapter.
type ExecuteFunc struct {
	Capability Capability
	Func       func(ctx context.Context, in Input) ([]byte, error)
}

func (f ExecuteFunc) Describe() Capability { return f.Capability }

func (f ExecuteFunc) Execute(ctx context.Context, in Input) ([]byte, error) {
	return f.Func(ctx, in)
}
