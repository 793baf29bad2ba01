package vad

import (
	"errors"
	"fmt"
)

// Model scores a single audio frame with a speech probability. Implementations
// wrap a neural inference backend or a signal-energy heuristic. A Model holds
// per-stream state and is not safe for concurrent use; engines create one
// model per session.
type Model interface {
	// Infer returns the speech probability (0.0–1.0) for one PCM16 frame.
	Infer(frame []byte) (float64, error)

	// Reset clears any internal model state (smoothing history, ring buffers).
	Reset()

	// Close releases model resources.
	Close() error
}

// ModelFactory creates a fresh Model for a new session.
type ModelFactory func(cfg Config) (Model, error)

// ModelEngine implements Engine by combining any Model with the shared
// hysteresis detector. This is the single canonical place where thresholds,
// the redemption window, and the minimum speech duration are applied, so
// every backend behaves identically at the boundary-event level.
type ModelEngine struct {
	factory ModelFactory
}

var _ Engine = (*ModelEngine)(nil)

// NewModelEngine creates an Engine whose sessions run the given model behind
// the hysteresis detector.
func NewModelEngine(factory ModelFactory) *ModelEngine {
	return &ModelEngine{factory: factory}
}

// NewSession implements Engine.
func (e *ModelEngine) NewSession(cfg Config) (SessionHandle, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	model, err := e.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("vad: create model: %w", err)
	}
	return &detector{cfg: cfg, model: model}, nil
}

// validate checks a Config for coherence.
func validate(cfg Config) error {
	switch {
	case cfg.SampleRate <= 0:
		return fmt.Errorf("vad: invalid sample rate %d", cfg.SampleRate)
	case cfg.FrameSizeMs <= 0:
		return fmt.Errorf("vad: invalid frame size %dms", cfg.FrameSizeMs)
	case cfg.PositiveThreshold <= 0 || cfg.PositiveThreshold > 1:
		return fmt.Errorf("vad: positive threshold %f out of range (0, 1]", cfg.PositiveThreshold)
	case cfg.NegativeThreshold <= 0 || cfg.NegativeThreshold > cfg.PositiveThreshold:
		return fmt.Errorf("vad: negative threshold %f must be in (0, %f]", cfg.NegativeThreshold, cfg.PositiveThreshold)
	case cfg.RedemptionMs < 0:
		return fmt.Errorf("vad: negative redemption window %dms", cfg.RedemptionMs)
	case cfg.MinSpeechMs < 0:
		return fmt.Errorf("vad: negative minimum speech duration %dms", cfg.MinSpeechMs)
	}
	return nil
}

// errClosed is returned by ProcessFrame after Close.
var errClosed = errors.New("vad: session is closed")

// detector applies hysteresis on top of a per-frame probability model.
//
// Speech begins the moment a frame's probability crosses the positive
// threshold. While speaking, frames below the negative threshold accumulate
// silence; a frame at or above it clears the accumulator (redemption). Speech
// ends once accumulated silence covers the redemption window — reported as
// VADMisfire instead of VADSpeechEnd when the voiced portion was shorter than
// the minimum speech duration.
type detector struct {
	cfg   Config
	model Model

	closed    bool
	speaking  bool
	speechMs  int
	silenceMs int
}

var _ SessionHandle = (*detector)(nil)

// ProcessFrame implements SessionHandle.
func (d *detector) ProcessFrame(frame []byte) (VADEvent, error) {
	if d.closed {
		return VADEvent{}, errClosed
	}
	wantBytes := d.cfg.SampleRate * d.cfg.FrameSizeMs / 1000 * 2
	if len(frame) != wantBytes {
		return VADEvent{}, fmt.Errorf("vad: frame is %d bytes, want %d", len(frame), wantBytes)
	}

	prob, err := d.model.Infer(frame)
	if err != nil {
		return VADEvent{}, fmt.Errorf("vad: infer: %w", err)
	}

	if !d.speaking {
		if prob >= d.cfg.PositiveThreshold {
			d.speaking = true
			d.speechMs = d.cfg.FrameSizeMs
			d.silenceMs = 0
			return VADEvent{Type: VADSpeechStart, Probability: prob}, nil
		}
		return VADEvent{Type: VADSilence, Probability: prob}, nil
	}

	d.speechMs += d.cfg.FrameSizeMs
	if prob < d.cfg.NegativeThreshold {
		d.silenceMs += d.cfg.FrameSizeMs
		if d.silenceMs >= d.cfg.RedemptionMs {
			voiced := d.speechMs - d.silenceMs
			d.speaking = false
			d.speechMs = 0
			d.silenceMs = 0
			if voiced < d.cfg.MinSpeechMs {
				return VADEvent{Type: VADMisfire, Probability: prob, SpeechMs: voiced}, nil
			}
			return VADEvent{Type: VADSpeechEnd, Probability: prob, SpeechMs: voiced}, nil
		}
		return VADEvent{Type: VADSpeechContinue, Probability: prob}, nil
	}

	// Redemption: voice came back before the window elapsed.
	d.silenceMs = 0
	return VADEvent{Type: VADSpeechContinue, Probability: prob}, nil
}

// Reset implements SessionHandle.
func (d *detector) Reset() {
	d.speaking = false
	d.speechMs = 0
	d.silenceMs = 0
	d.model.Reset()
}

// Close implements SessionHandle.
func (d *detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.model.Close()
}
