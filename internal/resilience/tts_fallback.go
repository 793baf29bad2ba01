package resilience

import (
	"context"
	"errors"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/tts"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker, so a
// cloud outage degrades to the local fallback instead of silencing responses.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one sentence with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// SynthesisChain binds a TTS provider (typically a [TTSFallback]) to a fixed
// voice and sample rate, giving the generation orchestrator its per-sentence
// synthesizer. Failures come back classified as synthesis errors so the
// orchestrator can skip the sentence and keep the response going.
type SynthesisChain struct {
	provider   tts.Provider
	voice      tts.VoiceProfile
	sampleRate int
}

// NewSynthesisChain builds a SynthesisChain. A zero sampleRate uses the
// engine rate.
func NewSynthesisChain(provider tts.Provider, voice tts.VoiceProfile, sampleRate int) (*SynthesisChain, error) {
	if provider == nil {
		return nil, errors.New("resilience: tts provider is required")
	}
	if sampleRate <= 0 {
		sampleRate = types.EngineSampleRate
	}
	return &SynthesisChain{provider: provider, voice: voice, sampleRate: sampleRate}, nil
}

// Synthesize renders one sentence of text to PCM16 audio.
func (c *SynthesisChain) Synthesize(ctx context.Context, text string) ([]byte, error) {
	audio, err := c.provider.Synthesize(ctx, tts.SynthesisRequest{
		Text:       text,
		Voice:      c.voice,
		SampleRate: c.sampleRate,
	})
	if err != nil {
		if types.KindOf(err) != types.KindUnknown {
			return nil, err
		}
		return nil, &types.EngineError{Kind: types.KindSynthesis, Op: "resilience.synthesize", Err: err}
	}
	return audio, nil
}
