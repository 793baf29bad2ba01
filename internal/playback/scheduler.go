// Package playback schedules synthesized audio chunks for gapless output.
//
// The scheduler keeps a running cursor on the output device's audio clock:
// each chunk starts at max(now+margin, end of the previous chunk), so
// back-to-back sentences play seamlessly while a gap in arrival simply starts
// the next chunk a safety margin from now. Chunks whose generation token is no
// longer current are discarded at the scheduling moment, never played.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Hakan2211/memdia-sub000/internal/generate"
	"github.com/Hakan2211/memdia-sub000/pkg/audio"
	"github.com/Hakan2211/memdia-sub000/pkg/audio/codec"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// Output is the audio output device. Implementations expose the device's own
// audio clock and schedule raw PCM16 against it.
type Output interface {
	// Now returns the current audio-clock time.
	Now() time.Duration

	// PlayAt schedules pcm (little-endian 16-bit mono) to begin at the given
	// audio-clock time.
	PlayAt(pcm []byte, sampleRate int, at time.Duration) error

	// Stop immediately stops and discards everything scheduled.
	Stop() error
}

// Events are the scheduler's outbound callbacks. Nil callbacks are skipped;
// callbacks run synchronously and must not call back into the scheduler.
type Events struct {
	// PlaybackStarted fires when the output transitions from silent to
	// playing.
	PlaybackStarted func()

	// PlaybackEnded fires when the last scheduled chunk finishes, or on a
	// hard stop.
	PlaybackEnded func()
}

// Config holds the scheduler tunables.
type Config struct {
	// SafetyMargin is how far ahead of the audio clock a chunk is scheduled
	// when nothing is already queued. Defaults to 30 ms.
	SafetyMargin time.Duration

	// Channels of the output stream, needed for Opus decoding. Defaults to 1.
	Channels int
}

func (c *Config) applyDefaults() {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 30 * time.Millisecond
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
}

// Scheduler owns one output stream. Safe for concurrent use; end-of-playback
// detection happens on Tick, which the session loop calls periodically.
type Scheduler struct {
	mu   sync.Mutex
	out  Output
	auth *generate.TokenAuthority
	ev   Events
	log  *slog.Logger
	cfg  Config

	dec       *codec.ChunkDecoder
	playing   bool
	nextStart time.Duration
	discarded uint64
}

// NewScheduler builds a Scheduler over the given output and token authority.
func NewScheduler(out Output, auth *generate.TokenAuthority, ev Events, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if out == nil {
		return nil, errors.New("playback: output is required")
	}
	if auth == nil {
		return nil, errors.New("playback: token authority is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Scheduler{
		out:  out,
		auth: auth,
		ev:   ev,
		log:  logger.With("component", "playback"),
		cfg:  cfg,
		dec:  codec.NewChunkDecoder(cfg.Channels),
	}, nil
}

// Enqueue schedules one chunk. Stale-generation chunks are silently dropped;
// that is cancellation working, not an error.
func (s *Scheduler) Enqueue(chunk types.AudioChunk) error {
	s.mu.Lock()

	if !s.auth.IsCurrent(chunk.Generation) {
		s.discarded++
		s.mu.Unlock()
		s.log.Debug("discarded stale chunk",
			"generation", chunk.Generation,
			"sentence", chunk.SentenceIndex)
		return nil
	}

	pcm, err := s.dec.Decode(chunk)
	if err != nil {
		s.mu.Unlock()
		return &types.EngineError{Kind: types.KindSynthesis, Op: "playback.decode", Err: err}
	}
	if len(pcm) == 0 {
		s.mu.Unlock()
		return nil
	}

	// Synthesized PCM16 payloads are mono; a stereo output needs them upmixed.
	// Opus payloads already decode to the configured channel count.
	if s.cfg.Channels == 2 && chunk.Encoding != types.EncodingOpus {
		pcm = audio.MonoToStereo(pcm)
	}

	rate := chunk.SampleRate
	if rate <= 0 {
		rate = types.EngineSampleRate
	}
	dur := pcmDuration(pcm, rate, s.cfg.Channels)

	now := s.out.Now()
	start := now + s.cfg.SafetyMargin
	if s.playing && s.nextStart > start {
		start = s.nextStart
	}
	if err := s.out.PlayAt(pcm, rate, start); err != nil {
		s.mu.Unlock()
		return &types.EngineError{Kind: types.KindDeviceUnavailable, Op: "playback.play", Err: err}
	}
	s.nextStart = start + dur

	started := !s.playing
	s.playing = true
	s.mu.Unlock()

	if started && s.ev.PlaybackStarted != nil {
		s.ev.PlaybackStarted()
	}
	return nil
}

// Tick checks whether the last scheduled chunk has finished playing. The
// session loop calls it periodically.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	ended := s.playing && s.out.Now() >= s.nextStart
	if ended {
		s.playing = false
		s.nextStart = 0
	}
	s.mu.Unlock()

	if ended && s.ev.PlaybackEnded != nil {
		s.ev.PlaybackEnded()
	}
}

// StopAndFlush hard-stops the output and discards everything scheduled.
// Idempotent: calling it while already silent does nothing.
func (s *Scheduler) StopAndFlush() error {
	s.mu.Lock()
	wasPlaying := s.playing
	s.playing = false
	s.nextStart = 0
	// A fresh decoder: Opus state must not leak across generations.
	s.dec = codec.NewChunkDecoder(s.cfg.Channels)
	s.mu.Unlock()

	if !wasPlaying {
		return nil
	}
	if err := s.out.Stop(); err != nil {
		return &types.EngineError{Kind: types.KindDeviceUnavailable, Op: "playback.stop", Err: err}
	}
	if s.ev.PlaybackEnded != nil {
		s.ev.PlaybackEnded()
	}
	return nil
}

// Playing reports whether audio is currently scheduled or playing.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Discarded reports how many stale-generation chunks were dropped, for the
// stale-discard metric.
func (s *Scheduler) Discarded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

func pcmDuration(pcm []byte, sampleRate, channels int) time.Duration {
	samples := len(pcm) / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
