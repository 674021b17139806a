// Package protocol defines the messages exchanged with the Sybl coordinator
// and the length-prefixed framing that carries them.
package protocol

import (
	"fmt"

	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
)

// Message is one protocol message. Every message carries a per-connection
// sequence number stamped by the writer just before framing.
type Message interface {
	Type() uint8
	Sequence() uint64

	stamp(seq uint64)
}

// Envelope holds the fields common to every message. Concrete messages embed
// it by pointer-receiver convention.
type Envelope struct {
	Seq uint64 `json:"seq"`
}

func (e *Envelope) Sequence() uint64 { return e.Seq }
func (e *Envelope) stamp(s uint64)   { e.Seq = s }

// Stamp assigns the sequence number prior to encoding. Only the single
// outbound writer of a session may call it.
func Stamp(m Message, seq uint64) { m.stamp(seq) }

// Capability identifies what a registered model accepts and produces.
// It is immutable once registered; re-registration after a reconnect must use
// an identical descriptor or the coordinator may reject the session.
type Capability struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	SchemaTag string `json:"schema"`
}

// Equal reports whether two descriptors are interchangeable for registration.
func (c Capability) Equal(o Capability) bool {
	return c.Name == o.Name && c.Version == o.Version && c.SchemaTag == o.SchemaTag
}

func (c Capability) String() string {
	return fmt.Sprintf("%s@%s (%s)", c.Name, c.Version, c.SchemaTag)
}

// Hello opens a session: client version plus the model's credentials.
type Hello struct {
	Envelope
	ClientVersion string `json:"client_version"`
	ModelID       string `json:"model_id"`
	AccessToken   string `json:"access_token"`
}

func (*Hello) Type() uint8 { return MsgHello }

// HelloAck confirms authentication and assigns the session id.
type HelloAck struct {
	Envelope
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

func (*HelloAck) Type() uint8 { return MsgHelloAck }

// Registration announces the capability descriptor of the hosted model.
type Registration struct {
	Envelope
	Capability Capability `json:"capability"`
}

func (*Registration) Type() uint8 { return MsgRegistration }

// RegistrationAck accepts or rejects the announced capability.
type RegistrationAck struct {
	Envelope
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (*RegistrationAck) Type() uint8 { return MsgRegistrationAck }

// ExecutionRequest dispatches one unit of work to the model.
// The correlation ID is coordinator-assigned and unique within a session.
type ExecutionRequest struct {
	Envelope
	ID             uint64            `json:"id"`
	DeadlineUnixMS int64             `json:"deadline_unix_ms,omitempty"`
	Encoding       string            `json:"encoding,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	Input          []byte            `json:"input"`
}

func (*ExecutionRequest) Type() uint8 { return MsgExecutionRequest }

// ExecutionResult returns the model output for a request.
type ExecutionResult struct {
	Envelope
	ID       uint64 `json:"id"`
	Encoding string `json:"encoding,omitempty"`
	Output   []byte `json:"output"`
}

func (*ExecutionResult) Type() uint8 { return MsgExecutionResult }

// ExecutionError reports a failed request without tearing down the session.
type ExecutionError struct {
	Envelope
	ID      uint64 `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (*ExecutionError) Type() uint8 { return MsgExecutionError }

// Heartbeat keeps the connection alive in both directions.
type Heartbeat struct {
	Envelope
}

func (*Heartbeat) Type() uint8 { return MsgHeartbeat }

// Goodbye announces an orderly shutdown of either side.
type Goodbye struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

func (*Goodbye) Type() uint8 { return MsgGoodbye }

// NewModel asks the coordinator to create a model for an account. Part of the
// registration flow, sent before any session exists.
type NewModel struct {
	Envelope
	Email     string `json:"email"`
	Password  string `json:"password"`
	ModelName string `json:"model_name"`
}

func (*NewModel) Type() uint8 { return MsgNewModel }

// Challenge is the coordinator's proof-of-key request during registration.
type Challenge struct {
	Envelope
	Challenge []byte `json:"challenge"`
}

func (*Challenge) Type() uint8 { return MsgChallenge }

// ChallengeResponse returns the signed challenge.
type ChallengeResponse struct {
	Envelope
	Email     string `json:"email"`
	ModelName string `json:"model_name"`
	Response  []byte `json:"response"`
}

func (*ChallengeResponse) Type() uint8 { return MsgChallengeResponse }

// AccessToken completes registration with the credentials the client stores.
type AccessToken struct {
	Envelope
	ModelID string `json:"id"`
	Token   string `json:"token"`
}

func (*AccessToken) Type() uint8 { return MsgAccessToken }

// Marshal encodes a message body with the given codec and wraps it in a frame.
func Marshal(c codec.Codec, m Message) (Frame, error) {
	payload, err := c.Marshal(m)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", TypeName(m.Type()), err)
	}
	return Frame{Type: m.Type(), Payload: payload}, nil
}

// Unmarshal decodes a frame payload into its concrete message. A payload the
// codec cannot decode is malformed, which is fatal to the session.
func Unmarshal(c codec.Codec, f Frame) (Message, error) {
	var m Message
	switch f.Type {
	case MsgHello:
		m = &Hello{}
	case MsgHelloAck:
		m = &HelloAck{}
	case MsgRegistration:
		m = &Registration{}
	case MsgRegistrationAck:
		m = &RegistrationAck{}
	case MsgExecutionRequest:
		m = &ExecutionRequest{}
	case MsgExecutionResult:
		m = &ExecutionResult{}
	case MsgExecutionError:
		m = &ExecutionError{}
	case MsgHeartbeat:
		m = &Heartbeat{}
	case MsgGoodbye:
		m = &Goodbye{}
	case MsgNewModel:
		m = &NewModel{}
	case MsgChallenge:
		m = &Challenge{}
	case MsgChallengeResponse:
		m = &ChallengeResponse{}
	case MsgAccessToken:
		m = &AccessToken{}
	default:
		return nil, &MalformedError{Reason: fmt.Sprintf("unknown message tag %d", f.Type)}
	}
	if err := c.Unmarshal(f.Payload, m); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("decode %s payload", TypeName(f.Type)), Err: err}
	}
	return m, nil
}
