// Package stt defines the Provider interface for streaming transcription
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform duplex interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw PCM audio frames and emits transcripts
// (interim and final), speech-boundary events from the service's endpointing,
// and hard errors.
//
// Sessions support a keepalive mode: when the engine intentionally stops
// sending real audio (for example while the AI is speaking, to avoid
// transcribing TTS echo), periodic KeepAlive calls keep the backend
// connection from timing out until normal audio sending resumes.
//
// Implementations must be safe for concurrent use. Audio input and output
// channels are goroutine-safe by construction.
package stt

import (
	"context"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// StreamConfig describes the audio format and recognition settings for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The engine always streams at
	// types.EngineSampleRate.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Punctuate requests punctuation in results. The generation pipeline's
	// sentence segmentation depends on it; the engine always enables it.
	Punctuate bool

	// InterimResults requests low-latency interim transcripts.
	InterimResults bool

	// EndpointingMs is the service-side silence window, in milliseconds,
	// after which a final result is marked utterance-final. Zero uses the
	// provider default.
	EndpointingMs int
}

// SessionHandle represents an open duplex transcription session. It is an
// interface so that test code can provide mock implementations without a live
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw little-endian PCM16 audio to the
	// provider for transcription. Calling SendAudio after Close returns an
	// error.
	SendAudio(chunk []byte) error

	// KeepAlive emits a no-op keepalive message so the backend does not time
	// the connection out while no real audio is flowing.
	KeepAlive() error

	// Transcripts returns a read-only channel emitting interim and final
	// Transcript values. Interim transcripts replace the previous interim;
	// finals are authoritative. The channel is closed when the session ends.
	Transcripts() <-chan types.Transcript

	// Events returns a read-only channel emitting the service's
	// speech-boundary signals (SpeechStarted / SpeechEnded with
	// SourceTranscription). The channel is closed when the session ends.
	Events() <-chan types.SpeechEvent

	// Errors returns a read-only channel carrying hard session errors, such
	// as an unexpected connection close. At most one error is delivered; the
	// channel is closed when the session ends.
	Errors() <-chan error

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the output channels are
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming transcription backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new duplex transcription session with the given
	// configuration. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the provider cannot establish the session. The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
