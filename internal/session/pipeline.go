package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Hakan2211/memdia-sub000/internal/turn"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
	"github.com/Hakan2211/memdia-sub000/pkg/provider/vad"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// Ticker is anything driven by the pipeline's periodic tick. The playback
// scheduler satisfies it.
type Ticker interface {
	Tick()
}

// Config holds the pipeline tunables.
type Config struct {
	// TickInterval drives debounce evaluation and playback end detection.
	// Defaults to 50 ms.
	TickInterval time.Duration

	// KeepAliveInterval is how often the transcription stream is pinged while
	// the AI holds the floor and no real audio is flowing. Defaults to 5 s.
	KeepAliveInterval time.Duration

	// Fusion configures the turn-fusion machine.
	Fusion turn.Config
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 5 * time.Second
	}
}

// Options wires a Pipeline's collaborators.
type Options struct {
	// Frames is the capture resampler's output.
	Frames <-chan types.AudioFrame

	// VAD is an open VAD session whose frame size matches the capture frame
	// duration.
	VAD vad.SessionHandle

	// BargeInVAD, if non-nil, is a second VAD session tuned to detect the
	// user speaking over AI playback. While the AI holds the floor, frames go
	// to this session instead of VAD; its stricter thresholds reject TTS
	// echo. Nil runs the one VAD session for both phases.
	BargeInVAD vad.SessionHandle

	// STT opens transcription sessions.
	STT stt.Provider

	// STTConfig is used for every transcription (re)connection.
	STTConfig stt.StreamConfig

	// OnTurn receives finalized user turns.
	OnTurn func(types.ConversationTurn)

	// OnBargeIn fires when the user speaks over AI playback. Typically the
	// barge-in coordinator's Signal.
	OnBargeIn func()

	// Scheduler, if non-nil, is ticked alongside the fusion machine.
	Scheduler Ticker

	// ReconnectMaxRetries / ReconnectBackoff / ReconnectMaxBackoff bound the
	// transcription reconnection loop. Zero values use the defaults.
	ReconnectMaxRetries int
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Config Config
}

// Pipeline runs one conversation session end to end on the input side:
// capture frames fan out to VAD and transcription, both detectors feed turn
// fusion, and fusion's outcomes are routed to the generation and barge-in
// layers. While the AI is speaking, microphone audio is withheld from the
// transcription stream (the VAD keeps running for barge-in detection, on the
// stricter barge-in session when one is configured) and periodic keepalives
// stop the service from timing the connection out.
type Pipeline struct {
	cfg       Config
	frames    <-chan types.AudioFrame
	vadSess   vad.SessionHandle
	bargeSess vad.SessionHandle
	recon     *Reconnector
	fusion    *turn.Machine
	scheduler Ticker
	log       *slog.Logger

	// aiHeldFloor is the floor state the last frame was processed under.
	// Touched only from the audio loop.
	aiHeldFloor bool

	sessions chan stt.SessionHandle
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewPipeline builds a Pipeline from its collaborators.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Frames == nil {
		return nil, errors.New("session: frames channel is required")
	}
	if opts.VAD == nil {
		return nil, errors.New("session: vad session is required")
	}
	if opts.STT == nil {
		return nil, errors.New("session: stt provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	cfg.applyDefaults()

	p := &Pipeline{
		cfg:       cfg,
		frames:    opts.Frames,
		vadSess:   opts.VAD,
		bargeSess: opts.BargeInVAD,
		scheduler: opts.Scheduler,
		log:       logger.With("component", "session"),
		sessions:  make(chan stt.SessionHandle, 1),
		done:      make(chan struct{}),
	}

	p.recon = NewReconnector(ReconnectorConfig{
		Provider:     opts.STT,
		StreamConfig: opts.STTConfig,
		MaxRetries:   opts.ReconnectMaxRetries,
		Backoff:      opts.ReconnectBackoff,
		MaxBackoff:   opts.ReconnectMaxBackoff,
		OnReconnect: func(sess stt.SessionHandle) {
			select {
			case p.sessions <- sess:
			case <-p.done:
			}
		},
		Logger: logger,
	})

	p.fusion = turn.NewMachine(cfg.Fusion, turn.Events{
		TurnFinalized: opts.OnTurn,
		BargeIn:       opts.OnBargeIn,
		StuckReset: func() {
			// The machine already reset itself; give the transcription stream
			// one fresh start in case it silently died.
			p.log.Warn("stuck turn state reset, reconnecting transcription")
			p.recon.NotifyDisconnect()
		},
	})

	return p, nil
}

// Fusion exposes the turn-fusion machine so playback boundary events can
// update the AI-speaking flag.
func (p *Pipeline) Fusion() *turn.Machine {
	return p.fusion
}

// Start connects the transcription stream and launches the pipeline loops.
func (p *Pipeline) Start(ctx context.Context) error {
	sess, err := p.recon.Connect(ctx)
	if err != nil {
		return err
	}
	p.recon.Monitor(ctx)

	p.wg.Add(3)
	go p.audioLoop(ctx)
	go p.sttLoop(ctx, sess)
	go p.tickLoop(ctx)
	return nil
}

// Close shuts the pipeline down and waits for its loops to exit.
func (p *Pipeline) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.recon.Stop()
		p.wg.Wait()
		if cerr := p.vadSess.Close(); err == nil {
			err = cerr
		}
		if p.bargeSess != nil {
			if cerr := p.bargeSess.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// audioLoop fans capture frames out to the VAD and the transcription stream.
func (p *Pipeline) audioLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case frame, ok := <-p.frames:
			if !ok {
				return
			}
			p.processFrame(frame)
		}
	}
}

func (p *Pipeline) processFrame(frame types.AudioFrame) {
	ev, err := p.activeVAD().ProcessFrame(frame.Data)
	if err != nil {
		p.log.Warn("vad frame failed", "error", err)
	} else {
		p.forwardVAD(ev)
	}

	// Withhold microphone audio while the AI speaks so the transcription
	// service never hears TTS echo. The VAD above still saw the frame, which
	// is what barge-in detection needs.
	if p.fusion.AISpeaking() {
		return
	}
	if sess := p.recon.Session(); sess != nil {
		if err := sess.SendAudio(frame.Data); err != nil {
			p.log.Warn("audio send failed", "error", err)
			p.recon.NotifyDisconnect()
		}
	}
}

// activeVAD selects the detection session for the current floor state. On a
// floor change the newly active session is reset so hysteresis state from the
// previous phase does not carry over.
func (p *Pipeline) activeVAD() vad.SessionHandle {
	if p.bargeSess == nil {
		return p.vadSess
	}
	ai := p.fusion.AISpeaking()
	if ai != p.aiHeldFloor {
		p.aiHeldFloor = ai
		if ai {
			p.bargeSess.Reset()
		} else {
			p.vadSess.Reset()
		}
	}
	if ai {
		return p.bargeSess
	}
	return p.vadSess
}

// forwardVAD translates detector results into fusion boundary signals.
func (p *Pipeline) forwardVAD(ev vad.VADEvent) {
	switch ev.Type {
	case vad.VADSpeechStart:
		p.fusion.HandleSpeechEvent(types.SpeechEvent{
			Type:   types.SpeechStarted,
			Source: types.SourceVAD,
		})
	case vad.VADSpeechEnd:
		p.fusion.HandleSpeechEvent(types.SpeechEvent{
			Type:     types.SpeechEnded,
			Source:   types.SourceVAD,
			Duration: time.Duration(ev.SpeechMs) * time.Millisecond,
		})
	case vad.VADMisfire:
		p.fusion.HandleSpeechEvent(types.SpeechEvent{
			Type:     types.SpeechMisfire,
			Source:   types.SourceVAD,
			Duration: time.Duration(ev.SpeechMs) * time.Millisecond,
		})
	}
}

// sttLoop consumes transcription output and resumes on replacement sessions.
// A session that dies surfaces an error before its channels close, and that
// error triggers the reconnect; a session that closes without one was closed
// by the reconnector itself, so the loop just waits for the replacement.
func (p *Pipeline) sttLoop(ctx context.Context, sess stt.SessionHandle) {
	defer p.wg.Done()
	for {
		if !p.consumeSession(ctx, sess) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case sess = <-p.sessions:
		}
	}
}

// consumeSession drains one session's outputs until they close. It returns
// false when the pipeline is shutting down.
func (p *Pipeline) consumeSession(ctx context.Context, sess stt.SessionHandle) bool {
	transcripts := sess.Transcripts()
	events := sess.Events()
	errs := sess.Errors()

	for transcripts != nil || events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return false
		case <-p.done:
			return false
		case t, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			p.fusion.HandleTranscript(t)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.fusion.HandleSpeechEvent(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.log.Warn("transcription session error",
				"kind", types.KindOf(err).String(),
				"error", err)
			p.recon.NotifyDisconnect()
		}
	}
	return true
}

// tickLoop drives debounce evaluation, playback end detection, and the
// keepalive while the AI holds the floor.
func (p *Pipeline) tickLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	lastKeepAlive := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.fusion.Tick()
			if p.scheduler != nil {
				p.scheduler.Tick()
			}
			if p.fusion.AISpeaking() && time.Since(lastKeepAlive) >= p.cfg.KeepAliveInterval {
				if sess := p.recon.Session(); sess != nil {
					if err := sess.KeepAlive(); err != nil {
						p.log.Warn("keepalive failed", "error", err)
						p.recon.NotifyDisconnect()
					}
				}
				lastKeepAlive = time.Now()
			}
		}
	}
}
