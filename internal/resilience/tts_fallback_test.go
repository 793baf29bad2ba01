package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/tts"
	ttsmock "github.com/Hakan2211/memdia-sub000/pkg/provider/tts/mock"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeAudio: []byte("primary-audio")}
	secondary := &ttsmock.Provider{SynthesizeAudio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("primary-audio")) {
		t.Fatalf("audio = %q, want primary's", audio)
	}
	if len(secondary.SynthesizeCalls()) != 0 {
		t.Error("fallback was called although the primary succeeded")
	}
}

func TestTTSFallback_FailsOverPerCall(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{SynthesizeAudio: []byte("fallback-audio")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("fallback-audio")) {
		t.Fatalf("audio = %q, want fallback's", audio)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("also down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hello"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	secondary := &ttsmock.Provider{SynthesizeAudio: []byte("ok")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	// Trip the primary's breaker.
	for range 3 {
		if _, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "x"}); err != nil {
			t.Fatalf("fallback chain failed: %v", err)
		}
	}

	callsBefore := len(primary.SynthesizeCalls())
	if _, err := fb.Synthesize(context.Background(), tts.SynthesisRequest{Text: "x"}); err != nil {
		t.Fatalf("fallback chain failed: %v", err)
	}
	if got := len(primary.SynthesizeCalls()); got != callsBefore {
		t.Errorf("primary called %d extra times with an open breaker, want skipped", got-callsBefore)
	}
}

func TestSynthesisChain_BindsVoiceAndRate(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeAudio: []byte("pcm")}
	chain, err := NewSynthesisChain(provider, tts.VoiceProfile{ID: "v1"}, 0)
	if err != nil {
		t.Fatalf("NewSynthesisChain: %v", err)
	}

	audio, err := chain.Synthesize(context.Background(), "one sentence.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(audio, []byte("pcm")) {
		t.Fatalf("audio = %q", audio)
	}

	calls := provider.SynthesizeCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Text != "one sentence." || req.Voice.ID != "v1" || req.SampleRate != types.EngineSampleRate {
		t.Errorf("request = %+v", req)
	}
}

func TestSynthesisChain_ClassifiesFailures(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeErr: errors.New("bare failure")}
	chain, err := NewSynthesisChain(provider, tts.VoiceProfile{}, 16000)
	if err != nil {
		t.Fatalf("NewSynthesisChain: %v", err)
	}

	_, err = chain.Synthesize(context.Background(), "x")
	if types.KindOf(err) != types.KindSynthesis {
		t.Errorf("kind = %v, want synthesis", types.KindOf(err))
	}
}
