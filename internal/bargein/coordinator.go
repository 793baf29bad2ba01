// Package bargein coordinates the response to a user interrupting the AI
// mid-playback: bump the generation token so every in-flight piece of the
// old response goes stale, hard-stop playback, and hand the floor back to the
// user. The token bump goes through the session's authority, which is the
// server-side source of truth; clients never decide a generation themselves.
package bargein

import (
	"errors"
	"log/slog"
	"sync"
)

// Bumper advances the session's generation. *generate.TokenAuthority
// satisfies it.
type Bumper interface {
	Bump() uint64
}

// Stopper hard-stops playback and discards everything scheduled. The playback
// scheduler satisfies it.
type Stopper interface {
	StopAndFlush() error
}

// FloorHolder tracks who currently holds the conversational floor. The
// turn-fusion machine satisfies it.
type FloorHolder interface {
	SetAISpeaking(speaking bool)
}

// Notifier carries a handled barge-in to the authoritative side of a remote
// session, typically by sending the stream cancel frame so the server's
// generation counter bumps too. Notify runs on the signalling goroutine.
type Notifier interface {
	NotifyBargeIn()
}

// Coordinator executes barge-ins. Safe for concurrent use; a signal arriving
// while another is being handled is absorbed rather than bumping the
// generation a second time.
type Coordinator struct {
	mu       sync.Mutex
	inFlight bool
	count    uint64

	auth   Bumper
	stop   Stopper
	floor  FloorHolder
	notify Notifier
	log    *slog.Logger
}

// NewCoordinator builds a Coordinator. floor may be nil.
func NewCoordinator(auth Bumper, stop Stopper, floor FloorHolder, logger *slog.Logger) (*Coordinator, error) {
	if auth == nil {
		return nil, errors.New("bargein: token bumper is required")
	}
	if stop == nil {
		return nil, errors.New("bargein: stopper is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		auth:  auth,
		stop:  stop,
		floor: floor,
		log:   logger.With("component", "bargein"),
	}, nil
}

// SetNotifier installs n, invoked once per handled barge-in after local
// playback has been stopped. Nil removes it.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
}

// Signal executes one barge-in: bump the generation, hard-stop playback, and
// mark the AI as no longer speaking. Signals arriving while one is already in
// flight are coalesced into it; both detectors firing for the same
// interruption must not cancel two generations.
func (c *Coordinator) Signal() {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.count++
	notify := c.notify
	c.mu.Unlock()

	gen := c.auth.Bump()
	if err := c.stop.StopAndFlush(); err != nil {
		// The bump already invalidated the response; a stop failure only
		// means some scheduled audio may leak out.
		c.log.Warn("playback stop failed during barge-in", "error", err)
	}
	if c.floor != nil {
		c.floor.SetAISpeaking(false)
	}
	if notify != nil {
		notify.NotifyBargeIn()
	}
	c.log.Info("barge-in handled", "generation", gen)

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// Count reports how many barge-ins were handled, for the barge-in metric.
func (c *Coordinator) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
