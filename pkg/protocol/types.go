package protocol

// Message type tags (one byte on the wire).
const (
	MsgUnknown uint8 = iota
	MsgHello
	MsgHelloAck
	MsgRegistration
	MsgRegistrationAck
	MsgExecutionRequest
	MsgExecutionResult
	MsgExecutionError
	MsgHeartbeat
	MsgGoodbye

	// Account registration flow (sybl-register), outside normal sessions.
	MsgNewModel
	MsgChallenge
	MsgChallengeResponse
	MsgAccessToken

	msgMax // one past the highest valid tag
)

// TypeName returns a readable name for a tag, for logs.
func TypeName(t uint8) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello-ack"
	case MsgRegistration:
		return "registration"
	case MsgRegistrationAck:
		return "registration-ack"
	case MsgExecutionRequest:
		return "execution-request"
	case MsgExecutionResult:
		return "execution-result"
	case MsgExecutionError:
		return "execution-error"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgGoodbye:
		return "goodbye"
	case MsgNewModel:
		return "new-model"
	case MsgChallenge:
		return "challenge"
	case MsgChallengeResponse:
		return "challenge-response"
	case MsgAccessToken:
		return "access-token"
	default:
		return "unknown"
	}
}

// Payload encodings for execution inputs and outputs.
const (
	EncodingIdentity   = "identity"
	EncodingGzipBase64 = "gzip+base64"
)

// Error codes carried by ExecutionError messages.
const (
	CodeTimeout  = "timeout"  // deadline elapsed before execution started
	CodeRejected = "rejected" // request refused by the acceptance policy
	CodeBusy     = "busy"     // dispatch queue full
	CodeAdapter  = "adapter"  // model logic returned an error
)
