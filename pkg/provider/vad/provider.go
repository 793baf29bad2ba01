// Package vad defines the Engine interface for Voice Activity Detection
// backends and a shared hysteresis detector built on top of any per-frame
// speech-probability model.
//
// A VAD engine wraps a frame-level speech detector (a neural model such as
// Silero, or an energy heuristic) and surfaces it as a stateful, per-stream
// session. Each session maintains its own internal state so that multiple
// concurrent audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for low-latency pipeline stages that
// gate interruption detection. It must never be called from the capture
// callback itself; frames are queued and inference runs asynchronously.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. The two thresholds plus the
// temporal constraints implement hysteresis: speech begins when the
// probability crosses PositiveThreshold and ends only after the probability
// has stayed below NegativeThreshold for the full redemption window. Optimal
// values differ between detecting normal user speech and detecting a user
// barging in over AI playback; callers configure one session per purpose.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// PositiveThreshold is the probability above which speech is declared to
	// have begun. Range: [0.0, 1.0]. Typical: 0.5 for normal detection,
	// higher (≈0.7) for barge-in detection to reject TTS echo.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a frame counts toward
	// the redemption window. Must be ≤ PositiveThreshold. Typical: 0.35.
	NegativeThreshold float64

	// RedemptionMs is the silence duration required before declaring speech
	// ended, so brief pauses do not chop an utterance in two.
	RedemptionMs int

	// MinSpeechMs is the minimum speech duration. A detected spurt shorter
	// than this is reported as VADMisfire instead of VADSpeechEnd.
	MinSpeechMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live model. Each session maintains its own detection state; Reset
// clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM at the configured
	// SampleRate and FrameSizeMs. Returns an error if the frame size is wrong
	// or if the model encounters an internal failure.
	//
	// This method must not block; it is called in the audio pipeline loop.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid or if the engine
	// cannot allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
