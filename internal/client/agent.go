// Package client assembles the device side of a voice conversation: capture
// frames flow through local detection and transcription into finalized
// utterances sent over the stream, and the server's synthesized response
// flows back into the playback scheduler. A local barge-in stops playback
// immediately and carries the cancel to the server so its generation counter
// agrees.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hakan2211/memdia-sub000/internal/bargein"
	"github.com/Hakan2211/memdia-sub000/internal/capture"
	"github.com/Hakan2211/memdia-sub000/internal/config"
	"github.com/Hakan2211/memdia-sub000/internal/generate"
	"github.com/Hakan2211/memdia-sub000/internal/playback"
	"github.com/Hakan2211/memdia-sub000/internal/session"
	"github.com/Hakan2211/memdia-sub000/internal/stream"
	"github.com/Hakan2211/memdia-sub000/internal/turn"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/vad"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// Options wires an Agent's collaborators and tunables.
type Options struct {
	// ServerURL is the engine server's base URL ("ws://host:8080" or
	// "http://host:8080").
	ServerURL string

	// SessionID names the conversation session on the server.
	SessionID string

	// Source is the capture device.
	Source capture.Source

	// Output is the playback device.
	Output playback.Output

	// STT opens transcription sessions for the input pipeline.
	STT stt.Provider

	// VAD builds the two detection sessions from the configured profiles.
	VAD vad.Engine

	// Config supplies the capture, VAD, transcription, fusion, playback, and
	// session tunables. Required.
	Config *config.Config

	// OnAssistantText, if non-nil, receives each incremental response token.
	OnAssistantText func(token string)

	// OnAssistantDone, if non-nil, receives each completed response text.
	OnAssistantDone func(fullText string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Agent runs one client-side conversation session. Build it with New, then
// Run blocks until the stream closes or ctx is cancelled.
type Agent struct {
	opts Options
	log  *slog.Logger

	// auth mirrors the server's generation counter: audio events raise it via
	// Observe, a local barge-in bumps past it so stale chunks are discarded
	// before the server's own bump arrives.
	auth generate.TokenAuthority

	resampler *capture.Resampler
	pipeline  *session.Pipeline
	scheduler *playback.Scheduler
	coord     *bargein.Coordinator

	// conn and runCtx are set when Run starts, before any pipeline callback
	// can fire.
	conn   *stream.Client
	runCtx context.Context
}

// New assembles an Agent from its collaborators. The VAD engine opens two
// sessions: one on the normal profile for turn detection, one on the stricter
// barge-in profile that the pipeline switches to while the AI holds the floor.
func New(opts Options) (*Agent, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("client: server url is required")
	}
	if opts.SessionID == "" {
		return nil, errors.New("client: session id is required")
	}
	if opts.Source == nil {
		return nil, errors.New("client: capture source is required")
	}
	if opts.Output == nil {
		return nil, errors.New("client: playback output is required")
	}
	if opts.STT == nil {
		return nil, errors.New("client: stt provider is required")
	}
	if opts.VAD == nil {
		return nil, errors.New("client: vad engine is required")
	}
	if opts.Config == nil {
		return nil, errors.New("client: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	a := &Agent{
		opts: opts,
		log:  logger.With("component", "client", "session", opts.SessionID),
	}

	resampler, err := capture.NewResampler(opts.Source, capture.Config{
		FrameDuration: msDuration(cfg.Capture.FrameMs),
		QueueDepth:    cfg.Capture.QueueDepth,
	})
	if err != nil {
		return nil, err
	}
	a.resampler = resampler

	scheduler, err := playback.NewScheduler(opts.Output, &a.auth, playback.Events{
		PlaybackStarted: func() { a.pipeline.Fusion().SetAISpeaking(true) },
		PlaybackEnded:   func() { a.pipeline.Fusion().SetAISpeaking(false) },
	}, logger, playback.Config{
		SafetyMargin: msDuration(cfg.Playback.SafetyMarginMs),
	})
	if err != nil {
		return nil, err
	}
	a.scheduler = scheduler

	normalSess, err := opts.VAD.NewSession(vadSessionConfig(cfg.VAD.Normal, cfg.Capture.FrameMs))
	if err != nil {
		return nil, fmt.Errorf("client: open vad session: %w", err)
	}
	bargeSess, err := opts.VAD.NewSession(vadSessionConfig(cfg.VAD.BargeIn, cfg.Capture.FrameMs))
	if err != nil {
		normalSess.Close()
		return nil, fmt.Errorf("client: open barge-in vad session: %w", err)
	}

	pipeline, err := session.NewPipeline(session.Options{
		Frames:     resampler.Frames(),
		VAD:        normalSess,
		BargeInVAD: bargeSess,
		STT:        opts.STT,
		STTConfig: stt.StreamConfig{
			SampleRate:     types.EngineSampleRate,
			Channels:       1,
			Language:       cfg.Transcription.Language,
			Punctuate:      true,
			InterimResults: cfg.Transcription.InterimResults,
			EndpointingMs:  cfg.Transcription.EndpointingMs,
		},
		OnTurn:              a.submitTurn,
		OnBargeIn:           func() { a.coord.Signal() },
		Scheduler:           scheduler,
		ReconnectMaxRetries: cfg.Session.ReconnectMaxRetries,
		ReconnectBackoff:    msDuration(cfg.Session.ReconnectBackoffMs),
		ReconnectMaxBackoff: msDuration(cfg.Session.ReconnectMaxBackoffMs),
		Logger:              logger,
		Config: session.Config{
			TickInterval:      msDuration(cfg.Session.TickMs),
			KeepAliveInterval: msDuration(cfg.Session.KeepAliveMs),
			Fusion: turn.Config{
				Strategy:     turn.Strategy(cfg.Fusion.Strategy),
				StartDelay:   msDuration(cfg.Fusion.StartDelayMs),
				EndDelay:     msDuration(cfg.Fusion.EndDelayMs),
				StuckTimeout: msDuration(cfg.Fusion.StuckTimeoutMs),
			},
		},
	})
	if err != nil {
		normalSess.Close()
		bargeSess.Close()
		return nil, err
	}
	a.pipeline = pipeline

	coord, err := bargein.NewCoordinator(&a.auth, scheduler, pipeline.Fusion(), logger)
	if err != nil {
		return nil, err
	}
	a.coord = coord

	return a, nil
}

// Run connects to the server and drives the session until ctx is cancelled or
// the stream closes. It always tears the pipeline down before returning.
func (a *Agent) Run(ctx context.Context) error {
	conn, err := stream.DialClient(ctx, a.opts.ServerURL, a.opts.SessionID, a.streamEvents(), a.log)
	if err != nil {
		return err
	}
	a.conn = conn
	a.runCtx = ctx
	a.coord.SetNotifier(&remoteCancel{ctx: ctx, conn: conn, log: a.log})

	if err := a.resampler.Start(ctx); err != nil {
		conn.Close()
		return err
	}
	if err := a.pipeline.Start(ctx); err != nil {
		a.resampler.Close()
		a.pipeline.Close()
		conn.Close()
		return err
	}

	a.log.Info("session started", "server", a.opts.ServerURL)
	runErr := conn.Run(ctx)

	if cerr := a.close(); runErr == nil {
		runErr = cerr
	}
	return runErr
}

// Discarded reports how many stale-generation chunks playback dropped.
func (a *Agent) Discarded() uint64 { return a.scheduler.Discarded() }

// BargeIns reports how many barge-ins were handled locally.
func (a *Agent) BargeIns() uint64 { return a.coord.Count() }

func (a *Agent) close() error {
	err := a.resampler.Close()
	if perr := a.pipeline.Close(); err == nil {
		err = perr
	}
	if serr := a.scheduler.StopAndFlush(); err == nil {
		err = serr
	}
	if cerr := a.conn.Close(); cerr != nil {
		// The read loop may already have torn the connection down.
		a.log.Debug("stream close", "error", cerr)
	}
	return err
}

// submitTurn sends one finalized user turn to the server for response
// generation. Fired by turn fusion, after Run has connected the stream.
func (a *Agent) submitTurn(t types.ConversationTurn) {
	a.log.Info("user turn finalized", "chars", len(t.Text))
	if err := a.conn.SendUtterance(a.runCtx, t.Text); err != nil {
		a.log.Warn("utterance send failed", "error", err)
	}
}

// streamEvents routes the server's response stream into playback. Audio events
// first raise the local generation mirror, then enqueue; a chunk from a
// generation the local coordinator already cancelled stays stale and is
// discarded by the scheduler.
func (a *Agent) streamEvents() stream.ClientEvents {
	return stream.ClientEvents{
		Text: func(token string) {
			if a.opts.OnAssistantText != nil {
				a.opts.OnAssistantText(token)
			}
		},
		Audio: func(chunk types.AudioChunk) {
			a.auth.Observe(chunk.Generation)
			if err := a.scheduler.Enqueue(chunk); err != nil {
				a.log.Warn("chunk enqueue failed", "sentence", chunk.SentenceIndex, "error", err)
			}
		},
		Done: func(fullText string, sentences int, aiTurnID string, latency time.Duration) {
			a.log.Info("response complete",
				"sentences", sentences,
				"ai_turn", aiTurnID,
				"first_chunk_latency", latency)
			if a.opts.OnAssistantDone != nil {
				a.opts.OnAssistantDone(fullText)
			}
		},
		Error: func(msg string) {
			a.log.Warn("response failed", "error", msg)
		},
	}
}

// remoteCancel carries a handled barge-in to the server as a cancel frame.
type remoteCancel struct {
	ctx  context.Context
	conn *stream.Client
	log  *slog.Logger
}

func (r *remoteCancel) NotifyBargeIn() {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()
	if err := r.conn.Cancel(ctx); err != nil {
		// Local playback already stopped; the server keeps synthesizing a
		// response nobody will play until its own staleness check fires.
		r.log.Warn("server cancel failed", "error", err)
	}
}

func vadSessionConfig(p config.VADProfile, frameMs int) vad.Config {
	return vad.Config{
		SampleRate:        types.EngineSampleRate,
		FrameSizeMs:       frameMs,
		PositiveThreshold: p.PositiveThreshold,
		NegativeThreshold: p.NegativeThreshold,
		RedemptionMs:      p.RedemptionMs,
		MinSpeechMs:       p.MinSpeechMs,
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
