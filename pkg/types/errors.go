package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. The taxonomy determines propagation:
// device failures are fatal to the session, transcription and network failures
// are recovered locally with bounded retries, synthesis failures are isolated
// per sentence, and stale-generation discards are not failures at all.
type ErrorKind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown ErrorKind = iota

	// KindPermissionDenied means the capture device exists but access was
	// refused. Fatal to the session attempt.
	KindPermissionDenied

	// KindDeviceUnavailable means the capture device could not be opened.
	// Fatal to the session attempt.
	KindDeviceUnavailable

	// KindTranscription marks a recoverable transcription service failure.
	KindTranscription

	// KindSynthesis marks a per-sentence synthesis failure. The sentence's
	// audio is skipped; the rest of the response continues.
	KindSynthesis

	// KindNetwork marks a dropped connection, recoverable with bounded
	// reconnect attempts.
	KindNetwork

	// KindStaleGeneration marks work discarded because its generation token
	// is no longer current. This is the cancellation mechanism working, never
	// logged as a failure.
	KindStaleGeneration

	// KindStuckState marks a forced reset after the turn-fusion machine saw
	// no transcript growth for the stuck timeout. Self-healing.
	KindStuckState
)

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindTranscription:
		return "transcription"
	case KindSynthesis:
		return "synthesis"
	case KindNetwork:
		return "network"
	case KindStaleGeneration:
		return "stale_generation"
	case KindStuckState:
		return "stuck_state"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind end the session attempt.
func (k ErrorKind) Fatal() bool {
	return k == KindPermissionDenied || k == KindDeviceUnavailable
}

// EngineError wraps an underlying error with its taxonomy kind and the
// operation that produced it.
type EngineError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the operation that failed (e.g., "capture.open", "stt.read").
	Op string

	// Err is the underlying cause. May be nil for synthesized conditions such
	// as a stuck-state reset.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *EngineError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err if it is (or wraps) an *EngineError,
// and KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}
