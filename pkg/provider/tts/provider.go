// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, or a
// local Piper instance) and presents a uniform per-sentence interface. The
// generation pipeline synthesizes one sentence per call, concurrently across
// sentences, and reassembles the results in order — so Synthesize must be
// safe for concurrent use and should return the complete audio for one short
// text fragment.
package tts

import (
	"context"
)

// SynthesisRequest describes one synthesis call.
type SynthesisRequest struct {
	// Text is the sentence or fragment to synthesize. Must be non-empty.
	Text string

	// Voice is the provider-specific voice to use. An empty ID selects the
	// provider's default voice.
	Voice VoiceProfile

	// SampleRate is the desired output sample rate in Hz. The engine always
	// requests types.EngineSampleRate. Zero uses the provider default.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use: the generation pipeline
// issues one Synthesize call per sentence and runs several in flight at once.
type Provider interface {
	// Synthesize converts one text fragment into raw little-endian mono PCM16
	// audio at the requested sample rate. It blocks until the full fragment is
	// synthesized or ctx is cancelled.
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
