// Package session wires one live conversation: microphone frames fan out to
// the VAD and the transcription stream, both detectors feed the turn-fusion
// machine, finalized turns go to the response generator, and a user speaking
// over AI playback routes to the barge-in coordinator. The package also owns
// transcription keepalive while the AI holds the floor and bounded-backoff
// reconnection of the transcription stream.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector owns the transcription session and re-establishes it on
// failure. Callers obtain the initial session via [Reconnector.Connect], then
// call [Reconnector.Monitor] to start a background goroutine that watches for
// drops. When a drop is signalled (via [Reconnector.NotifyDisconnect]), the
// monitor reconnects with exponential backoff and invokes the configured
// OnReconnect callback with the fresh session.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider    stt.Provider
	streamCfg   stt.StreamConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(stt.SessionHandle)
	log         *slog.Logger

	mu           sync.Mutex
	sess         stt.SessionHandle
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a drop is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider opens transcription sessions.
	Provider stt.Provider

	// StreamConfig is used for every (re)connection.
	StreamConfig stt.StreamConfig

	// MaxRetries is the maximum number of reconnection attempts before giving
	// up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff between retries. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// session. May be nil.
	OnReconnect func(stt.SessionHandle)

	// Logger for reconnection progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnector{
		provider:     cfg.Provider,
		streamCfg:    cfg.StreamConfig,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		log:          logger.With("component", "session"),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect opens the initial transcription session.
func (r *Reconnector) Connect(ctx context.Context) (stt.SessionHandle, error) {
	sess, err := r.provider.StartStream(ctx, r.streamCfg)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	return sess, nil
}

// Monitor starts watching for disconnect signals in a background goroutine.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals that the transcription session is dead and a
// reconnect should be attempted. Safe to call multiple times; only the first
// call per reconnection cycle has effect, so a stuck-state reset and a read
// error racing each other still produce a single reconnect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current session. Safe to call
// multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Session returns the current transcription session. May return nil during
// reconnection.
func (r *Reconnector) Session() stt.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.log.Info("attempting transcription reconnect",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := r.provider.StartStream(ctx, r.streamCfg)
		if err == nil {
			r.mu.Lock()
			oldSess := r.sess
			r.sess = sess
			r.mu.Unlock()

			// Close the old (failed) session to release its resources.
			if oldSess != nil {
				_ = oldSess.Close()
			}

			r.log.Info("transcription reconnected", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(sess)
			}
			return
		}

		r.log.Warn("transcription reconnect attempt failed",
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	r.log.Error("transcription reconnect failed after max retries",
		"max_retries", r.maxRetries,
	)
}
