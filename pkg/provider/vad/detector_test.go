package vad_test

import (
	"testing"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/vad"
)

// scriptModel returns scripted probabilities in order, then repeats the last.
type scriptModel struct {
	probs []float64
	next  int
}

func (m *scriptModel) Infer([]byte) (float64, error) {
	if m.next < len(m.probs) {
		p := m.probs[m.next]
		m.next++
		return p, nil
	}
	if len(m.probs) == 0 {
		return 0, nil
	}
	return m.probs[len(m.probs)-1], nil
}

func (m *scriptModel) Reset()       { m.next = 0 }
func (m *scriptModel) Close() error { return nil }

// newSession builds a detector session over the given probability script.
// Frames are 20 ms at 16 kHz; redemption 60 ms (3 frames); min speech 100 ms.
func newSession(t *testing.T, probs []float64) vad.SessionHandle {
	t.Helper()
	eng := vad.NewModelEngine(func(vad.Config) (vad.Model, error) {
		return &scriptModel{probs: probs}, nil
	})
	sess, err := eng.NewSession(vad.Config{
		SampleRate:        16000,
		FrameSizeMs:       20,
		PositiveThreshold: 0.5,
		NegativeThreshold: 0.35,
		RedemptionMs:      60,
		MinSpeechMs:       100,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

// frame is one 20 ms frame of 16 kHz PCM16 silence; the scripted model
// ignores its contents.
var frame = make([]byte, 16000*20/1000*2)

// run feeds n frames and returns the event types observed.
func run(t *testing.T, sess vad.SessionHandle, n int) []vad.VADEventType {
	t.Helper()
	out := make([]vad.VADEventType, 0, n)
	for range n {
		ev, err := sess.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		out = append(out, ev.Type)
	}
	return out
}

func TestDetector_StartOnPositiveThreshold(t *testing.T) {
	t.Parallel()
	sess := newSession(t, []float64{0.1, 0.4, 0.6})
	got := run(t, sess, 3)
	want := []vad.VADEventType{vad.VADSilence, vad.VADSilence, vad.VADSpeechStart}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDetector_RedemptionWindowSuppressesBriefPause(t *testing.T) {
	t.Parallel()
	// Speech, two silent frames (40 ms < 60 ms redemption), speech again:
	// no end event may be emitted.
	sess := newSession(t, []float64{0.9, 0.9, 0.1, 0.1, 0.9, 0.9})
	got := run(t, sess, 6)
	for i, ty := range got {
		if ty == vad.VADSpeechEnd || ty == vad.VADMisfire {
			t.Errorf("frame %d: speech ended during a pause shorter than the redemption window", i)
		}
	}
}

func TestDetector_EndAfterRedemption(t *testing.T) {
	t.Parallel()
	// 6 voiced frames (120 ms ≥ 100 ms min speech), then 3 silent frames
	// (60 ms = redemption) → SpeechEnd on the last one.
	probs := []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1, 0.1}
	sess := newSession(t, probs)
	got := run(t, sess, len(probs))
	if got[len(got)-1] != vad.VADSpeechEnd {
		t.Fatalf("last frame: got %v, want VADSpeechEnd", got[len(got)-1])
	}
}

func TestDetector_ShortSpurtIsMisfire(t *testing.T) {
	t.Parallel()
	// 2 voiced frames (40 ms < 100 ms min speech), then redemption silence.
	probs := []float64{0.9, 0.9, 0.1, 0.1, 0.1}
	sess := newSession(t, probs)
	got := run(t, sess, len(probs))
	if got[len(got)-1] != vad.VADMisfire {
		t.Fatalf("last frame: got %v, want VADMisfire", got[len(got)-1])
	}
}

func TestDetector_RejectsWrongFrameSize(t *testing.T) {
	t.Parallel()
	sess := newSession(t, nil)
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("ProcessFrame accepted a frame of the wrong size")
	}
}

func TestDetector_ConfigValidation(t *testing.T) {
	t.Parallel()
	eng := vad.NewModelEngine(func(vad.Config) (vad.Model, error) {
		return &scriptModel{}, nil
	})
	bad := []vad.Config{
		{},
		{SampleRate: 16000, FrameSizeMs: 20, PositiveThreshold: 0.3, NegativeThreshold: 0.5},
		{SampleRate: 16000, FrameSizeMs: 20, PositiveThreshold: 1.5, NegativeThreshold: 0.3},
	}
	for i, cfg := range bad {
		if _, err := eng.NewSession(cfg); err == nil {
			t.Errorf("config %d: NewSession accepted invalid config %+v", i, cfg)
		}
	}
}
