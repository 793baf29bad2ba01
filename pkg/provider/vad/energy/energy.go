// Package energy provides a signal-energy speech-probability model for the
// VAD engine. It tracks an exponential noise-floor estimate and maps the
// frame RMS relative to that floor onto a (0, 1) probability.
//
// It is not a substitute for a neural model in noisy environments, but it is
// dependency-free, deterministic, and fast enough to score every frame —
// which makes it the default backend and the reference model for tests.
package energy

import (
	"math"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/vad"
)

const (
	// floorAlpha is the EMA coefficient for the noise-floor estimate. Only
	// quiet frames update the floor, so sustained speech does not raise it.
	floorAlpha = 0.05

	// initialFloor is the starting noise-floor RMS, roughly the level of a
	// quiet room on a consumer microphone.
	initialFloor = 80.0

	// steepness controls how sharply probability rises once the frame RMS
	// exceeds the noise floor.
	steepness = 0.015
)

// NewEngine returns a VAD engine backed by the energy model.
func NewEngine() *vad.ModelEngine {
	return vad.NewModelEngine(func(vad.Config) (vad.Model, error) {
		return &model{floor: initialFloor}, nil
	})
}

// model scores frames by RMS relative to an adaptive noise floor.
type model struct {
	floor float64
}

var _ vad.Model = (*model)(nil)

// Infer implements vad.Model.
func (m *model) Infer(frame []byte) (float64, error) {
	rms := frameRMS(frame)

	// Update the noise floor only from frames near or below it.
	if rms < m.floor*2 {
		m.floor = (1-floorAlpha)*m.floor + floorAlpha*rms
		if m.floor < 1 {
			m.floor = 1
		}
	}

	// Logistic mapping of the excess over the floor onto (0, 1).
	excess := rms - m.floor*3
	return 1 / (1 + math.Exp(-steepness*excess)), nil
}

// Reset implements vad.Model.
func (m *model) Reset() { m.floor = initialFloor }

// Close implements vad.Model.
func (m *model) Close() error { return nil }

// frameRMS computes the root mean square of little-endian PCM16 data.
func frameRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
