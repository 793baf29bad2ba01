package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Hakan2211/memdia-sub000/internal/store"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/llm"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// Sink receives the orchestrator's outbound events. The stream layer
// implements it on top of the session's websocket; tests implement it
// directly. Methods are called from a single goroutine at a time but not
// always the same one.
type Sink interface {
	// Started signals that generation began for the given user turn.
	Started(userTurnID string)

	// Text delivers one incremental LLM token.
	Text(token string)

	// Audio delivers one synthesized sentence. Chunks arrive in sentence-index
	// order within a generation.
	Audio(chunk types.AudioChunk)

	// Done signals successful completion with the full response text, the
	// number of sentences synthesized, the persisted AI turn ID (empty when
	// nothing was persisted), and end-to-end latency.
	Done(fullText string, sentenceCount int, aiTurnID string, latency time.Duration)

	// Error delivers a terminal failure message. No further events follow.
	Error(msg string)
}

// Synthesizer converts one sentence of text into encoded audio. The
// resilience layer implements it as a provider fallback chain.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config holds the orchestrator tunables.
type Config struct {
	// SystemPrompt is injected ahead of the conversation history.
	SystemPrompt string

	// Temperature is passed through to the LLM.
	Temperature float64

	// MaxTokens caps the LLM response length. Zero means provider default.
	MaxTokens int

	// SynthConcurrency bounds concurrent per-sentence synthesis calls.
	// Defaults to 4.
	SynthConcurrency int

	// SampleRate of synthesized audio in Hz. Defaults to
	// types.EngineSampleRate.
	SampleRate int
}

func (c *Config) applyDefaults() {
	if c.SynthConcurrency <= 0 {
		c.SynthConcurrency = 4
	}
	if c.SampleRate <= 0 {
		c.SampleRate = types.EngineSampleRate
	}
}

// Request carries one finalized user turn into the orchestrator.
type Request struct {
	// SessionID identifies the conversation session.
	SessionID string

	// UserTurn is the finalized utterance driving this response.
	UserTurn types.ConversationTurn

	// History is the prior conversation, oldest first. The user turn itself
	// is appended by the orchestrator.
	History []llm.Message

	// Authority is the session's generation token authority.
	Authority *TokenAuthority

	// Sink receives the response events.
	Sink Sink
}

// ErrSuperseded reports that a newer generation invalidated this one while it
// was in flight. Per the error taxonomy this is the cancellation mechanism
// working, not a failure.
var ErrSuperseded = &types.EngineError{
	Kind: types.KindStaleGeneration,
	Op:   "generate.respond",
	Err:  errors.New("superseded by a newer generation"),
}

// Orchestrator turns a finalized user utterance into a spoken AI response:
// stream LLM tokens, cut them into sentences, synthesize sentences
// concurrently, and emit the audio in sentence order. Every emission is
// gated on the generation token so a barge-in cuts the response off with at
// most one already-in-flight chunk escaping.
type Orchestrator struct {
	llm   llm.Provider
	synth Synthesizer
	turns store.TurnStore
	ent   store.Entitlements
	log   *slog.Logger
	cfg   Config
}

// NewOrchestrator builds an Orchestrator. llmProvider and synth are required;
// turns and ent may be nil, disabling persistence and entitlement checks
// respectively.
func NewOrchestrator(llmProvider llm.Provider, synth Synthesizer, turns store.TurnStore, ent store.Entitlements, logger *slog.Logger, cfg Config) (*Orchestrator, error) {
	if llmProvider == nil {
		return nil, errors.New("generate: llm provider is required")
	}
	if synth == nil {
		return nil, errors.New("generate: synthesizer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ent == nil {
		ent = store.AllowAll{}
	}
	cfg.applyDefaults()
	return &Orchestrator{
		llm:   llmProvider,
		synth: synth,
		turns: turns,
		ent:   ent,
		log:   logger.With("component", "generate"),
		cfg:   cfg,
	}, nil
}

// synthResult is one sentence's synthesis outcome, delivered through its
// per-sentence slot channel.
type synthResult struct {
	index int
	text  string
	audio []byte
	err   error
}

// Respond runs one full generation for a finalized user turn. It returns
// ErrSuperseded when a newer generation invalidated this one, nil on success,
// and a classified error on entitlement or LLM failure. Per-sentence
// synthesis failures are isolated: the sentence's audio is skipped and the
// rest of the response continues.
func (o *Orchestrator) Respond(ctx context.Context, req Request) error {
	if req.Authority == nil {
		return errors.New("generate: request has no token authority")
	}
	if req.Sink == nil {
		return errors.New("generate: request has no sink")
	}

	allowed, err := o.ent.MayContinue(ctx, req.SessionID)
	if err != nil {
		req.Sink.Error("entitlement check failed")
		return &types.EngineError{Kind: types.KindNetwork, Op: "generate.entitlement", Err: err}
	}
	if !allowed {
		req.Sink.Error("generation is not permitted for this session")
		return &types.EngineError{
			Kind: types.KindUnknown,
			Op:   "generate.entitlement",
			Err:  errors.New("session is not entitled to further responses"),
		}
	}

	// This response becomes the current generation; anything older is now
	// stale.
	gen := req.Authority.Bump()
	start := time.Now()

	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.UserTurn.Text})

	// genCtx scopes this generation: the LLM stream and every synthesis call
	// run under it, so cancelling on supersession stops the provider's stream
	// goroutine instead of letting it play out a dead response.
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := o.llm.StreamCompletion(genCtx, llm.CompletionRequest{
		Messages:     messages,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
		SystemPrompt: o.cfg.SystemPrompt,
	})
	if err != nil {
		req.Sink.Error("language model request failed")
		return &types.EngineError{Kind: types.KindNetwork, Op: "generate.llm", Err: err}
	}

	req.Sink.Started(req.UserTurn.ID)

	g, gctx := errgroup.WithContext(genCtx)
	g.SetLimit(o.cfg.SynthConcurrency)

	// ordered is the queue of per-sentence result slots, enqueued in sentence
	// order. The collector reads slots in that order, so audio is emitted in
	// sentence order no matter how synthesis completions interleave.
	ordered := make(chan chan synthResult, 64)

	type collectOutcome struct {
		emitted int
		stale   bool
	}
	collected := make(chan collectOutcome, 1)

	go func() {
		var out collectOutcome
		for slot := range ordered {
			res := <-slot
			if out.stale {
				continue
			}
			if !req.Authority.IsCurrent(gen) {
				out.stale = true
				cancel()
				continue
			}
			if res.err != nil {
				if types.KindOf(res.err) != types.KindStaleGeneration {
					o.log.Warn("sentence synthesis failed, skipping audio",
						"session", req.SessionID,
						"sentence", res.index,
						"error", res.err)
				}
				continue
			}
			req.Sink.Audio(types.AudioChunk{
				SentenceIndex: res.index,
				Payload:       res.audio,
				Encoding:      types.EncodingPCM16,
				SampleRate:    o.cfg.SampleRate,
				Generation:    gen,
				Text:          res.text,
			})
			out.emitted++
		}
		collected <- out
	}()

	dispatch := func(index int, text string) {
		slot := make(chan synthResult, 1)
		ordered <- slot
		g.Go(func() error {
			if gctx.Err() != nil || !req.Authority.IsCurrent(gen) {
				slot <- synthResult{index: index, err: ErrSuperseded}
				return nil
			}
			audio, err := o.synth.Synthesize(gctx, text)
			slot <- synthResult{index: index, text: text, audio: audio, err: err}
			return nil
		})
	}

	var (
		full     strings.Builder
		buf      string
		next     int
		stale    bool
		chunkErr error
	)
	for chunk := range chunks {
		if !req.Authority.IsCurrent(gen) {
			stale = true
			cancel()
			break
		}
		if chunk.FinishReason == "error" {
			chunkErr = errors.New("language model stream failed mid-response")
			break
		}
		if chunk.Text == "" {
			continue
		}
		req.Sink.Text(chunk.Text)
		full.WriteString(chunk.Text)
		buf += chunk.Text
		for {
			b := firstSentenceBoundary(buf)
			if b < 0 {
				break
			}
			sentence := strings.TrimSpace(buf[:b+1])
			buf = buf[b+1:]
			if sentence != "" {
				dispatch(next, sentence)
				next++
			}
		}
	}
	// Drain the remainder so the provider's stream goroutine can exit. After
	// an early break the cancel above has already closed the stream, so this
	// consumes at most the chunks already in flight.
	for range chunks {
	}

	// The tail of the response is rarely a terminated sentence; flush it as
	// the final one.
	if tail := strings.TrimSpace(buf); tail != "" && !stale && chunkErr == nil {
		dispatch(next, tail)
		next++
	}

	// Workers always return nil; their results travel through the slots.
	_ = g.Wait()
	close(ordered)
	out := <-collected

	if chunkErr != nil {
		req.Sink.Error("response generation failed")
		return &types.EngineError{Kind: types.KindNetwork, Op: "generate.llm", Err: chunkErr}
	}
	if stale || out.stale || !req.Authority.IsCurrent(gen) {
		o.log.Debug("generation superseded",
			"session", req.SessionID,
			"generation", gen,
			"sentences_emitted", out.emitted)
		return ErrSuperseded
	}

	fullText := strings.TrimSpace(full.String())
	latency := time.Since(start)

	var aiTurnID string
	if fullText != "" && o.turns != nil {
		aiTurn := types.ConversationTurn{
			ID:            uuid.NewString(),
			Speaker:       types.SpeakerAI,
			Text:          fullText,
			SequenceOrder: req.UserTurn.SequenceOrder + 1,
			StartedAt:     start,
			Duration:      latency,
		}
		if err := o.turns.AppendTurn(ctx, req.SessionID, aiTurn); err != nil {
			// Persistence is best-effort; the spoken response already went out.
			o.log.Warn("failed to persist AI turn",
				"session", req.SessionID,
				"turn", aiTurn.ID,
				"error", err)
		} else {
			aiTurnID = aiTurn.ID
		}
	}

	req.Sink.Done(fullText, next, aiTurnID, latency)
	o.log.Info("generation complete",
		"session", req.SessionID,
		"generation", gen,
		"sentences", next,
		"latency", latency)
	return nil
}

// History builds an LLM message history from stored turns, oldest first.
func History(turns []types.ConversationTurn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Speaker == types.SpeakerAI {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}
