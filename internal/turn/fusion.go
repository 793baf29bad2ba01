// Package turn fuses the two independent speech detectors — the local VAD and
// the transcription service's endpointing — into a single turn-taking state
// machine.
//
// The machine has two states, Idle and UserSpeaking. Either detector alone is
// enough to start a turn (OR), but under the default hybrid strategy both
// must agree before the turn ends (AND); the asymmetry exists because the two
// detectors flicker independently and an AND on the clearing edge suppresses
// that flicker. Transitions are additionally debounced: a short delay on the
// start edge and a longer one on the end edge.
//
// When the AI is speaking, a start signal is not a turn start at all — it is
// a barge-in, routed to the coordinator instead.
package turn

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// State is the fusion machine's current state.
type State int

const (
	// StateIdle means no user turn is in progress.
	StateIdle State = iota
	// StateUserSpeaking means a user turn is in progress and transcript text
	// is accumulating.
	StateUserSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	default:
		return "unknown"
	}
}

// Strategy selects the clearing policy.
type Strategy string

const (
	// StrategyHybrid requires both detectors to agree before the turn ends.
	// This is the default.
	StrategyHybrid Strategy = "hybrid"

	// StrategyTranscriptPrimary lets the transcription service's endpointing
	// clear the turn alone; the VAD only contributes to the start edge.
	StrategyTranscriptPrimary Strategy = "transcript-primary"
)

// Config holds the fusion tunables.
type Config struct {
	// Strategy is the clearing policy. Defaults to StrategyHybrid.
	Strategy Strategy

	// StartDelay debounces the transition into UserSpeaking. Defaults to 40 ms.
	StartDelay time.Duration

	// EndDelay debounces the transition back to Idle. Defaults to 400 ms.
	EndDelay time.Duration

	// StuckTimeout force-resets a UserSpeaking state with no transcript
	// growth, covering silent upstream failure. Defaults to 15 s.
	StuckTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyHybrid
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 40 * time.Millisecond
	}
	if c.EndDelay <= 0 {
		c.EndDelay = 400 * time.Millisecond
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 15 * time.Second
	}
}

// Events are the machine's outbound callbacks. Nil callbacks are skipped.
// Callbacks run synchronously on the caller's goroutine; they must not call
// back into the machine.
type Events struct {
	// TurnFinalized fires when a user turn completes with non-empty text.
	TurnFinalized func(types.ConversationTurn)

	// BargeIn fires when a user-speech start signal arrives while the AI is
	// speaking.
	BargeIn func()

	// StuckReset fires when the stuck-state recovery rule force-resets the
	// machine. The session layer reconnects the transcription client once in
	// response.
	StuckReset func()
}

// Machine is the turn fusion state machine. All methods are safe for
// concurrent use. Time-dependent transitions (debounce, stuck recovery) are
// evaluated on each event and on Tick, which the session loop calls
// periodically; the clock is injected for tests.
type Machine struct {
	mu  sync.Mutex
	cfg Config
	ev  Events
	now func() time.Time

	state       State
	vadSpeaking bool
	sttSpeaking bool
	aiSpeaking  bool

	// pendingStart / pendingEnd hold the debounce deadlines; zero means no
	// transition is pending.
	pendingStart time.Time
	pendingEnd   time.Time

	// accumulator collects final transcripts for the current turn; interim
	// holds the latest interim, replaced on every update.
	accumulator strings.Builder
	interim     string

	turnStarted time.Time
	lastGrowth  time.Time
	sequence    int
}

// NewMachine builds a Machine with the given config and callbacks.
func NewMachine(cfg Config, ev Events) *Machine {
	cfg.applyDefaults()
	return &Machine{
		cfg: cfg,
		ev:  ev,
		now: time.Now,
	}
}

// SetClock replaces the machine's clock. Intended for tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetAISpeaking records the playback boundary events. While the AI is
// speaking, start signals route to the barge-in coordinator instead of
// starting a turn.
func (m *Machine) SetAISpeaking(speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aiSpeaking = speaking
}

// AISpeaking reports whether the machine currently considers the AI to be
// speaking.
func (m *Machine) AISpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aiSpeaking
}

// HandleSpeechEvent feeds a boundary signal from either detector.
func (m *Machine) HandleSpeechEvent(ev types.SpeechEvent) {
	m.mu.Lock()
	var fire func()

	switch ev.Type {
	case types.SpeechStarted:
		m.setSource(ev.Source, true)
		if m.aiSpeaking {
			// Not a turn start: route to barge-in.
			fire = m.ev.BargeIn
		}
	case types.SpeechEnded:
		m.setSource(ev.Source, false)
	case types.SpeechMisfire:
		// A spurt below the minimum speech duration: the detector retracts
		// its start signal entirely.
		m.setSource(ev.Source, false)
		if m.state == StateIdle {
			m.pendingStart = time.Time{}
		}
	}

	m.evaluateLocked()
	turn := m.commitLocked()
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
	m.deliver(turn)
}

// HandleTranscript feeds a transcript update. Interim transcripts replace the
// previous interim; finals append to the turn accumulator.
func (m *Machine) HandleTranscript(t types.Transcript) {
	m.mu.Lock()
	if t.Text != "" {
		m.lastGrowth = m.now()
	}
	if t.IsFinal {
		if t.Text != "" {
			if m.accumulator.Len() > 0 {
				m.accumulator.WriteByte(' ')
			}
			m.accumulator.WriteString(t.Text)
		}
		m.interim = ""
	} else {
		m.interim = t.Text
	}

	// Utterance-final endpointing doubles as a transcription "speech ended"
	// signal under both strategies.
	if t.IsUtteranceFinal {
		m.sttSpeaking = false
	}

	m.evaluateLocked()
	turn := m.commitLocked()
	m.mu.Unlock()

	m.deliver(turn)
}

// Tick evaluates time-based transitions: pending debounces and the
// stuck-state recovery rule. The session loop calls it periodically.
func (m *Machine) Tick() {
	m.mu.Lock()
	var stuck bool
	if m.state == StateUserSpeaking && m.cfg.StuckTimeout > 0 {
		ref := m.turnStarted
		if m.lastGrowth.After(ref) {
			ref = m.lastGrowth
		}
		if m.now().Sub(ref) > m.cfg.StuckTimeout {
			m.resetLocked()
			stuck = true
		}
	}

	var turn *types.ConversationTurn
	if !stuck {
		m.evaluateLocked()
		turn = m.commitLocked()
	}
	m.mu.Unlock()

	if stuck && m.ev.StuckReset != nil {
		m.ev.StuckReset()
	}
	m.deliver(turn)
}

// Accumulated returns the turn text accumulated so far (finals plus latest
// interim), mainly for status surfaces.
func (m *Machine) Accumulated() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinedLocked()
}

// ---- internals (all require m.mu) ----

func (m *Machine) setSource(src types.SpeechSource, speaking bool) {
	switch src {
	case types.SourceVAD:
		m.vadSpeaking = speaking
	case types.SourceTranscription:
		m.sttSpeaking = speaking
	}
}

// evaluateLocked updates the pending-transition deadlines from the current
// source flags.
func (m *Machine) evaluateLocked() {
	anySpeaking := m.vadSpeaking || m.sttSpeaking

	cleared := !m.vadSpeaking && !m.sttSpeaking
	if m.cfg.Strategy == StrategyTranscriptPrimary {
		cleared = !m.sttSpeaking
	}

	switch m.state {
	case StateIdle:
		if anySpeaking && !m.aiSpeaking {
			if m.pendingStart.IsZero() {
				m.pendingStart = m.now().Add(m.cfg.StartDelay)
			}
		} else {
			m.pendingStart = time.Time{}
		}
	case StateUserSpeaking:
		if cleared {
			if m.pendingEnd.IsZero() {
				m.pendingEnd = m.now().Add(m.cfg.EndDelay)
			}
		} else {
			m.pendingEnd = time.Time{}
		}
	}
}

// commitLocked applies any pending transition whose debounce deadline has
// passed. It returns a finalized turn to deliver after the lock is released,
// or nil.
func (m *Machine) commitLocked() *types.ConversationTurn {
	now := m.now()

	if m.state == StateIdle && !m.pendingStart.IsZero() && !now.Before(m.pendingStart) {
		m.state = StateUserSpeaking
		m.pendingStart = time.Time{}
		m.turnStarted = now
		m.lastGrowth = now
		return nil
	}

	if m.state == StateUserSpeaking && !m.pendingEnd.IsZero() && !now.Before(m.pendingEnd) {
		text := m.joinedLocked()
		started := m.turnStarted
		m.resetLocked()
		if text == "" {
			return nil
		}
		m.sequence++
		return &types.ConversationTurn{
			ID:            uuid.NewString(),
			Speaker:       types.SpeakerUser,
			Text:          text,
			SequenceOrder: m.sequence,
			StartedAt:     started,
			Duration:      now.Sub(started),
		}
	}

	return nil
}

func (m *Machine) joinedLocked() string {
	text := m.accumulator.String()
	if m.interim != "" {
		if text != "" {
			text += " "
		}
		text += m.interim
	}
	return strings.TrimSpace(text)
}

// resetLocked returns the machine to Idle and clears all buffered state.
func (m *Machine) resetLocked() {
	m.state = StateIdle
	m.pendingStart = time.Time{}
	m.pendingEnd = time.Time{}
	m.accumulator.Reset()
	m.interim = ""
	m.vadSpeaking = false
	m.sttSpeaking = false
}

func (m *Machine) deliver(turn *types.ConversationTurn) {
	if turn != nil && m.ev.TurnFinalized != nil {
		m.ev.TurnFinalized(*turn)
	}
}
