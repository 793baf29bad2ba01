package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hakan2211/memdia-sub000/internal/store"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/llm"
	llmmock "github.com/Hakan2211/memdia-sub000/pkg/provider/llm/mock"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// sinkRecorder captures every Sink callback for later assertions.
type sinkRecorder struct {
	mu       sync.Mutex
	started  []string
	tokens   []string
	audio    []types.AudioChunk
	dones    int
	doneText string
	doneSent int
	doneTurn string
	errs     []string
}

func (s *sinkRecorder) Started(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
}

func (s *sinkRecorder) Text(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, tok)
}

func (s *sinkRecorder) Audio(c types.AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, c)
}

func (s *sinkRecorder) Done(fullText string, sentences int, aiTurnID string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dones++
	s.doneText = fullText
	s.doneSent = sentences
	s.doneTurn = aiTurnID
}

func (s *sinkRecorder) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
}

// fakeSynth synthesizes deterministic audio, optionally failing or blocking
// on a per-text basis.
type fakeSynth struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	blockOn string
	release chan struct{}
	// onCall fires for every synthesis request before any blocking.
	onCall func(text string)
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	cb := f.onCall
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
	if text == f.blockOn {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if text == f.failOn {
		return nil, &types.EngineError{Kind: types.KindSynthesis, Op: "tts.synthesize", Err: errors.New("backend refused")}
	}
	return []byte(text), nil
}

// denyAll rejects every entitlement check.
type denyAll struct{}

func (denyAll) MayContinue(context.Context, string) (bool, error) { return false, nil }

func newOrchestrator(t *testing.T, p llm.Provider, synth Synthesizer, turns store.TurnStore, ent store.Entitlements) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(p, synth, turns, ent, nil, Config{})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func userTurn(text string) types.ConversationTurn {
	return types.ConversationTurn{
		ID:            "turn-1",
		Speaker:       types.SpeakerUser,
		Text:          text,
		SequenceOrder: 3,
	}
}

func TestRespond_SegmentsAndOrdersAudio(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there. How "},
		{Text: "are you? Thanks"},
		{FinishReason: "stop"},
	}}
	// The first sentence's synthesis finishes last: it blocks until the
	// trailing flush ("Thanks") has been requested. Audio must still come out
	// in sentence order.
	synth := &fakeSynth{blockOn: "Hello there.", release: make(chan struct{})}
	synth.onCall = func(text string) {
		if text == "Thanks" {
			close(synth.release)
		}
	}
	turns := store.NewMemoryTurnStore()
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, synth, turns, nil)
	err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.started) != 1 || sink.started[0] != "turn-1" {
		t.Errorf("started = %v, want one event for turn-1", sink.started)
	}
	if got := strings.Join(sink.tokens, ""); got != "Hello there. How are you? Thanks" {
		t.Errorf("streamed text = %q", got)
	}

	wantSentences := []string{"Hello there.", "How are you?", "Thanks"}
	if len(sink.audio) != len(wantSentences) {
		t.Fatalf("audio chunks = %d, want %d", len(sink.audio), len(wantSentences))
	}
	for i, c := range sink.audio {
		if c.SentenceIndex != i {
			t.Errorf("chunk %d has index %d: audio emitted out of order", i, c.SentenceIndex)
		}
		if c.Text != wantSentences[i] {
			t.Errorf("chunk %d text = %q, want %q", i, c.Text, wantSentences[i])
		}
		if c.Encoding != types.EncodingPCM16 {
			t.Errorf("chunk %d encoding = %q", i, c.Encoding)
		}
		if c.Generation != 1 {
			t.Errorf("chunk %d generation = %d, want 1", i, c.Generation)
		}
	}

	if sink.dones != 1 {
		t.Fatalf("done events = %d, want 1", sink.dones)
	}
	if sink.doneText != "Hello there. How are you? Thanks" {
		t.Errorf("done full text = %q", sink.doneText)
	}
	if sink.doneSent != 3 {
		t.Errorf("done sentence count = %d, want 3", sink.doneSent)
	}
	if sink.doneTurn == "" {
		t.Error("done carries no AI turn ID")
	}

	stored, _ := turns.ListTurns(context.Background(), "sess", 0)
	if len(stored) != 1 {
		t.Fatalf("persisted turns = %d, want 1", len(stored))
	}
	if stored[0].Speaker != types.SpeakerAI || stored[0].SequenceOrder != 4 {
		t.Errorf("persisted turn = %+v", stored[0])
	}
}

func TestRespond_TokenBumpDiscardsRemainder(t *testing.T) {
	t.Parallel()
	delay := make(chan struct{})
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "One. "},
			{Text: "Two. "},
			{Text: "Three."},
			{FinishReason: "stop"},
		},
		StreamDelay: delay,
	}
	synth := &fakeSynth{}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, synth, store.NewMemoryTurnStore(), nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Respond(context.Background(), Request{
			SessionID: "sess",
			UserTurn:  userTurn("hi"),
			Authority: &auth,
			Sink:      sink,
		})
	}()

	// Let the first chunk through, then invalidate the generation the way a
	// barge-in would.
	delay <- struct{}{}
	for auth.Current() == 0 {
		time.Sleep(time.Millisecond) // wait for Respond to bump
	}
	auth.Bump()
	close(delay)

	err := <-errCh
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Respond returned %v, want ErrSuperseded", err)
	}
	if types.KindOf(err) != types.KindStaleGeneration {
		t.Errorf("kind = %v, want stale_generation", types.KindOf(err))
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.dones != 0 {
		t.Error("a superseded generation still reported done")
	}
	if len(sink.errs) != 0 {
		t.Errorf("a superseded generation reported errors: %v", sink.errs)
	}
}

func TestRespond_SupersededStopsLLMStream(t *testing.T) {
	t.Parallel()
	// A long stream paced one chunk at a time. After the generation is
	// invalidated only one more chunk is released; a stale response must cut
	// the stream off there rather than drain the rest, which would hold up
	// the next utterance on the connection.
	delay := make(chan struct{})
	var long []llm.Chunk
	for range 50 {
		long = append(long, llm.Chunk{Text: "Still talking. "})
	}
	long = append(long, llm.Chunk{FinishReason: "stop"})
	p := &llmmock.Provider{StreamChunks: long, StreamDelay: delay}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, &fakeSynth{}, nil, nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Respond(context.Background(), Request{
			SessionID: "sess",
			UserTurn:  userTurn("hi"),
			Authority: &auth,
			Sink:      sink,
		})
	}()

	// First chunk through, then a barge-in, then exactly one more chunk so
	// the staleness check runs. The remaining 48 are never released.
	delay <- struct{}{}
	for auth.Current() == 0 {
		time.Sleep(time.Millisecond)
	}
	auth.Bump()
	delay <- struct{}{}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("Respond returned %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Respond did not return: still consuming the superseded stream")
	}

	calls := p.StreamCalls()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	if calls[0].Ctx.Err() == nil {
		t.Error("LLM stream context was not cancelled for the superseded generation")
	}
}

func TestRespond_SynthesisFailureSkipsSentence(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "First. Bad. Third."},
		{FinishReason: "stop"},
	}}
	synth := &fakeSynth{failOn: "Bad."}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, synth, nil, nil)
	err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.audio) != 2 {
		t.Fatalf("audio chunks = %d, want 2 (failed sentence skipped)", len(sink.audio))
	}
	if sink.audio[0].SentenceIndex != 0 || sink.audio[1].SentenceIndex != 2 {
		t.Errorf("chunk indices = [%d %d], want [0 2]",
			sink.audio[0].SentenceIndex, sink.audio[1].SentenceIndex)
	}
	if sink.dones != 1 {
		t.Error("response did not complete despite an isolated synthesis failure")
	}
	if len(sink.errs) != 0 {
		t.Errorf("isolated synthesis failure surfaced as a stream error: %v", sink.errs)
	}
}

func TestRespond_EntitlementDenied(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, &fakeSynth{}, nil, denyAll{})
	err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	})
	if err == nil {
		t.Fatal("Respond succeeded for an unentitled session")
	}

	if len(p.StreamCalls()) != 0 {
		t.Error("LLM was called for an unentitled session")
	}
	if auth.Current() != 0 {
		t.Error("generation was bumped before the entitlement check passed")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.errs) != 1 {
		t.Errorf("error events = %d, want 1", len(sink.errs))
	}
	if len(sink.started) != 0 {
		t.Error("started event sent for a denied generation")
	}
}

func TestRespond_MidStreamLLMError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hi. "},
		{FinishReason: "error"},
	}}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, &fakeSynth{}, nil, nil)
	err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	})
	if types.KindOf(err) != types.KindNetwork {
		t.Fatalf("Respond returned %v, want a network-kind error", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.dones != 0 {
		t.Error("done sent after a mid-stream failure")
	}
	if len(sink.errs) != 1 {
		t.Errorf("error events = %d, want 1", len(sink.errs))
	}
}

func TestRespond_StartFailure(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamErr: errors.New("dial refused")}
	sink := &sinkRecorder{}
	var auth TokenAuthority

	o := newOrchestrator(t, p, &fakeSynth{}, nil, nil)
	err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	})
	if types.KindOf(err) != types.KindNetwork {
		t.Fatalf("Respond returned %v, want a network-kind error", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.started) != 0 {
		t.Error("started sent although the stream never opened")
	}
}

func TestRespond_EmptyResponse(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
	sink := &sinkRecorder{}
	turns := store.NewMemoryTurnStore()
	var auth TokenAuthority

	o := newOrchestrator(t, p, &fakeSynth{}, turns, nil)
	if err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("hi"),
		Authority: &auth,
		Sink:      sink,
	}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.dones != 1 || sink.doneText != "" || sink.doneSent != 0 {
		t.Errorf("done = (%q, %d), want empty response completion", sink.doneText, sink.doneSent)
	}
	stored, _ := turns.ListTurns(context.Background(), "sess", 0)
	if len(stored) != 0 {
		t.Error("an empty response was persisted")
	}
}

func TestRespond_RequestShape(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
	var auth TokenAuthority

	o, err := NewOrchestrator(p, &fakeSynth{}, nil, nil, nil, Config{
		SystemPrompt: "be brief",
		Temperature:  0.7,
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if err := o.Respond(context.Background(), Request{
		SessionID: "sess",
		UserTurn:  userTurn("new question"),
		History:   history,
		Authority: &auth,
		Sink:      &sinkRecorder{},
	}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	calls := p.StreamCalls()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "be brief" || req.Temperature != 0.7 || req.MaxTokens != 256 {
		t.Errorf("request tunables = %+v", req)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want history plus user turn", len(req.Messages))
	}
	last := req.Messages[2]
	if last.Role != "user" || last.Content != "new question" {
		t.Errorf("last message = %+v", last)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	msgs := History([]types.ConversationTurn{
		{Speaker: types.SpeakerUser, Text: "hello"},
		{Speaker: types.SpeakerAI, Text: "hi there"},
	})
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = [%s %s]", msgs[0].Role, msgs[1].Role)
	}
}
