// Package stream carries one generated response to a connected client: the
// wire protocol event types, a close-once response writer that the generation
// orchestrator emits into, and the websocket server handler plus the
// cancellation endpoint.
package stream

// Event type discriminators. Every server→client frame is a JSON object with
// a "type" field naming one of these.
const (
	// TypeStarted opens a response stream.
	TypeStarted = "started"
	// TypeText carries one incremental LLM token.
	TypeText = "text"
	// TypeAudio carries one synthesized sentence.
	TypeAudio = "audio"
	// TypeDone closes a response stream successfully.
	TypeDone = "done"
	// TypeError closes a response stream with a failure.
	TypeError = "error"
)

// startedEvent signals that generation began for a user turn.
type startedEvent struct {
	Type       string `json:"type"`
	UserTurnID string `json:"user_turn_id"`
}

// textEvent carries one incremental token.
type textEvent struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// audioEvent carries one synthesized sentence. Payload marshals to base64.
type audioEvent struct {
	Type          string `json:"type"`
	SentenceIndex int    `json:"sentence_index"`
	Payload       []byte `json:"payload"`
	Encoding      string `json:"encoding"`
	Text          string `json:"text,omitempty"`
	Generation    uint64 `json:"generation"`
}

// doneEvent closes a response stream successfully.
type doneEvent struct {
	Type          string `json:"type"`
	FullText      string `json:"full_text"`
	SentenceCount int    `json:"sentence_count"`
	AITurnID      string `json:"ai_turn_id,omitempty"`
	LatencyMS     int64  `json:"latency_ms"`
}

// errorEvent closes a response stream with a failure message.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client→server message types.
const (
	// ClientUtterance submits a finalized user utterance.
	ClientUtterance = "utterance"
	// ClientCancel invalidates the in-flight generation.
	ClientCancel = "cancel"
)

// clientMessage is any client→server frame.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// cancelRequest is the body of POST /v1/voice/cancel.
type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// cancelResponse acknowledges a cancellation with the new current generation.
// Generations are monotone: a repeated cancel never returns a smaller value.
type cancelResponse struct {
	Generation uint64 `json:"generation"`
}
