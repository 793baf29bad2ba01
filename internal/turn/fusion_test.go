package turn

import (
	"sync"
	"testing"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// fakeClock is a manually advanced clock shared with the machine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures the machine's outbound callbacks.
type recorder struct {
	mu     sync.Mutex
	turns  []types.ConversationTurn
	barges int
	stucks int
}

func (r *recorder) events() Events {
	return Events{
		TurnFinalized: func(t types.ConversationTurn) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.turns = append(r.turns, t)
		},
		BargeIn: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.barges++
		},
		StuckReset: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stucks++
		},
	}
}

func (r *recorder) turnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

func newMachine(t *testing.T, cfg Config) (*Machine, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &recorder{}
	m := NewMachine(cfg, rec.events())
	m.SetClock(clock.Now)
	return m, clock, rec
}

func started(src types.SpeechSource) types.SpeechEvent {
	return types.SpeechEvent{Type: types.SpeechStarted, Source: src}
}

func ended(src types.SpeechSource) types.SpeechEvent {
	return types.SpeechEvent{Type: types.SpeechEnded, Source: src}
}

var cfg = Config{
	StartDelay:   40 * time.Millisecond,
	EndDelay:     400 * time.Millisecond,
	StuckTimeout: 15 * time.Second,
}

func TestFusion_EitherSourceStarts(t *testing.T) {
	t.Parallel()
	for _, src := range []types.SpeechSource{types.SourceVAD, types.SourceTranscription} {
		m, clock, _ := newMachine(t, cfg)

		m.HandleSpeechEvent(started(src))
		if m.State() != StateIdle {
			t.Errorf("%v: entered UserSpeaking before the start debounce", src)
		}

		clock.Advance(50 * time.Millisecond)
		m.Tick()
		if m.State() != StateUserSpeaking {
			t.Errorf("%v: still Idle after the start debounce", src)
		}
	}
}

func TestFusion_AndClearing(t *testing.T) {
	t.Parallel()
	m, clock, _ := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceVAD))
	m.HandleSpeechEvent(started(types.SourceTranscription))
	clock.Advance(50 * time.Millisecond)
	m.Tick()
	if m.State() != StateUserSpeaking {
		t.Fatal("machine did not start")
	}

	// VAD says ended, transcription still speaking: must stay in
	// UserSpeaking no matter how long we wait.
	m.HandleSpeechEvent(ended(types.SourceVAD))
	clock.Advance(2 * time.Second)
	m.Tick()
	if m.State() != StateUserSpeaking {
		t.Fatal("state cleared while one source still reported speaking")
	}

	// Both agree: after the end debounce the turn ends.
	m.HandleSpeechEvent(ended(types.SourceTranscription))
	clock.Advance(500 * time.Millisecond)
	m.Tick()
	if m.State() != StateIdle {
		t.Fatal("state did not clear after both sources agreed")
	}
}

func TestFusion_EndDebounceCancelledBySpeechReturn(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceVAD))
	clock.Advance(50 * time.Millisecond)
	m.Tick()

	m.HandleSpeechEvent(ended(types.SourceVAD))
	clock.Advance(200 * time.Millisecond) // within the 400 ms end debounce
	m.HandleSpeechEvent(started(types.SourceVAD))
	clock.Advance(time.Second)
	m.Tick()

	if m.State() != StateUserSpeaking {
		t.Error("brief pause inside the end debounce ended the turn")
	}
	if rec.turnCount() != 0 {
		t.Error("a turn was finalized during a brief pause")
	}
}

func TestFusion_SingleTurnFromInterimsAndFinal(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceTranscription))
	clock.Advance(50 * time.Millisecond)
	m.Tick()

	m.HandleTranscript(types.Transcript{Text: "hel"})
	m.HandleTranscript(types.Transcript{Text: "hello there"})
	m.HandleTranscript(types.Transcript{
		Text:             "hello there",
		IsFinal:          true,
		IsUtteranceFinal: true,
	})
	m.HandleSpeechEvent(ended(types.SourceVAD)) // VAD never started; keeps flags in agreement

	clock.Advance(500 * time.Millisecond)
	m.Tick()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.turns) != 1 {
		t.Fatalf("got %d turns, want exactly 1", len(rec.turns))
	}
	turn := rec.turns[0]
	if turn.Text != "hello there" {
		t.Errorf("turn text = %q, want %q", turn.Text, "hello there")
	}
	if turn.Speaker != types.SpeakerUser {
		t.Errorf("speaker = %q, want user", turn.Speaker)
	}
	if turn.ID == "" {
		t.Error("turn has no ID")
	}
}

func TestFusion_EmptyTranscriptEmitsNoTurn(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceVAD))
	clock.Advance(50 * time.Millisecond)
	m.Tick()
	m.HandleSpeechEvent(ended(types.SourceVAD))
	clock.Advance(500 * time.Millisecond)
	m.Tick()

	if m.State() != StateIdle {
		t.Error("machine did not return to Idle")
	}
	if rec.turnCount() != 0 {
		t.Error("an empty turn was finalized")
	}
}

func TestFusion_BargeInWhileAISpeaking(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.SetAISpeaking(true)
	m.HandleSpeechEvent(started(types.SourceVAD))
	clock.Advance(time.Second)
	m.Tick()

	rec.mu.Lock()
	barges := rec.barges
	rec.mu.Unlock()
	if barges != 1 {
		t.Errorf("barge-in callbacks = %d, want 1", barges)
	}
	if m.State() != StateIdle {
		t.Error("a turn started while the AI was speaking")
	}
}

func TestFusion_MisfireRetractsPendingStart(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceVAD))
	clock.Advance(20 * time.Millisecond) // inside the start debounce
	m.HandleSpeechEvent(types.SpeechEvent{Type: types.SpeechMisfire, Source: types.SourceVAD})
	clock.Advance(time.Second)
	m.Tick()

	if m.State() != StateIdle {
		t.Error("a misfire started a turn")
	}
	if rec.turnCount() != 0 {
		t.Error("a misfire finalized a turn")
	}
}

func TestFusion_StuckStateRecovery(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceTranscription))
	clock.Advance(50 * time.Millisecond)
	m.Tick()
	m.HandleTranscript(types.Transcript{Text: "I feel very"})

	// No transcript growth past the stuck timeout.
	clock.Advance(16 * time.Second)
	m.Tick()

	if m.State() != StateIdle {
		t.Error("machine did not force-reset out of a stuck UserSpeaking state")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stucks != 1 {
		t.Errorf("stuck resets = %d, want 1", rec.stucks)
	}
	if len(rec.turns) != 0 {
		t.Error("a stuck reset finalized a turn")
	}
	if m.Accumulated() != "" {
		t.Error("accumulator not cleared on stuck reset")
	}
}

func TestFusion_TranscriptGrowthDefersStuckReset(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	m.HandleSpeechEvent(started(types.SourceTranscription))
	clock.Advance(50 * time.Millisecond)
	m.Tick()

	// Transcript keeps growing every 10 s: never stuck.
	for range 3 {
		clock.Advance(10 * time.Second)
		m.HandleTranscript(types.Transcript{Text: "still talking"})
		m.Tick()
	}

	if m.State() != StateUserSpeaking {
		t.Error("machine reset despite continuous transcript growth")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stucks != 0 {
		t.Errorf("stuck resets = %d, want 0", rec.stucks)
	}
}

func TestFusion_TranscriptPrimaryClearsOnEndpointing(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, Config{
		Strategy:     StrategyTranscriptPrimary,
		StartDelay:   cfg.StartDelay,
		EndDelay:     cfg.EndDelay,
		StuckTimeout: cfg.StuckTimeout,
	})

	m.HandleSpeechEvent(started(types.SourceVAD))
	m.HandleSpeechEvent(started(types.SourceTranscription))
	clock.Advance(50 * time.Millisecond)
	m.Tick()

	m.HandleTranscript(types.Transcript{
		Text:             "short answer",
		IsFinal:          true,
		IsUtteranceFinal: true,
	})
	// VAD still reports speaking, but transcript-primary clears anyway.
	clock.Advance(500 * time.Millisecond)
	m.Tick()

	if m.State() != StateIdle {
		t.Error("transcript-primary strategy did not clear on endpointing alone")
	}
	if rec.turnCount() != 1 {
		t.Errorf("turns = %d, want 1", rec.turnCount())
	}
}

func TestFusion_SequenceOrderIncrements(t *testing.T) {
	t.Parallel()
	m, clock, rec := newMachine(t, cfg)

	for i := range 2 {
		m.HandleSpeechEvent(started(types.SourceTranscription))
		clock.Advance(50 * time.Millisecond)
		m.Tick()
		m.HandleTranscript(types.Transcript{Text: "turn", IsFinal: true, IsUtteranceFinal: true})
		clock.Advance(500 * time.Millisecond)
		m.Tick()

		rec.mu.Lock()
		if len(rec.turns) != i+1 {
			rec.mu.Unlock()
			t.Fatalf("iteration %d: turns = %d", i, len(rec.turns))
		}
		if rec.turns[i].SequenceOrder != i+1 {
			t.Errorf("turn %d sequence = %d, want %d", i, rec.turns[i].SequenceOrder, i+1)
		}
		rec.mu.Unlock()
	}
}
