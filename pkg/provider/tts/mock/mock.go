// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio for each synthesized sentence and
// to verify which text fragments were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeFunc: func(req tts.SynthesisRequest) ([]byte, error) {
//	        return []byte(req.Text), nil
//	    },
//	}
//	audio, _ := p.Synthesize(ctx, tts.SynthesisRequest{Text: "Hello."})
package mock

import (
	"context"
	"sync"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the SynthesisRequest passed to Synthesize.
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, if non-nil, computes the result of each Synthesize
	// call. Otherwise SynthesizeAudio and SynthesizeErr are returned.
	SynthesizeFunc func(req tts.SynthesisRequest) ([]byte, error)

	// SynthesizeAudio is returned by Synthesize when SynthesizeFunc is nil.
	SynthesizeAudio []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize when
	// SynthesizeFunc is nil.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	synthesizeCalls []SynthesizeCall
	listVoicesCalls int
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	p.mu.Lock()
	p.synthesizeCalls = append(p.synthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	audio, err := p.SynthesizeAudio, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(audio))
	copy(cp, audio)
	return cp, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// SynthesizeCalls returns a copy of the recorded Synthesize calls.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.synthesizeCalls))
	copy(out, p.synthesizeCalls)
	return out
}

// SynthesizedTexts returns just the text of each recorded Synthesize call,
// in order.
func (p *Provider) SynthesizedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.synthesizeCalls))
	for i, c := range p.synthesizeCalls {
		out[i] = c.Req.Text
	}
	return out
}

// ListVoicesCalls reports the number of ListVoices invocations.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVoicesCalls
}
