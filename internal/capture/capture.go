// Package capture converts a continuous microphone stream into fixed-format
// engine audio: 16 kHz mono 16-bit PCM frames emitted on a configurable
// cadence.
//
// The capture device delivers float32 slices at its native rate and channel
// count in hardware-callback-sized pieces. The resampler buffers those pieces,
// downmixes and resamples them to the engine rate, and cuts the result into
// frames of a fixed duration. The emission cadence is decoupled from the
// hardware callback size: a device delivering 10 ms callbacks and a cadence of
// 250 ms still produces exactly one 250 ms frame per period.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/audio"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// Source is a capture device delivering float32 audio at its native format.
// Implementations wrap a platform audio API or, in tests, a scripted buffer.
type Source interface {
	// Start begins capture. The callback is invoked from the device's capture
	// thread with a short-lived sample slice; implementations of the callback
	// must not retain it.
	Start(cb func(samples []float32)) error

	// Format reports the device's native sample rate and channel count.
	Format() audio.Format

	// Close stops capture and releases the device.
	Close() error
}

// Config holds the resampler tunables.
type Config struct {
	// FrameDuration is the emission cadence. Each emitted AudioFrame covers
	// exactly this much audio at the engine rate. Defaults to 250 ms.
	FrameDuration time.Duration

	// QueueDepth is the emitted-frame channel buffer. When the consumer falls
	// behind, the oldest queued frame is dropped rather than stalling the
	// capture callback. Defaults to 8.
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.FrameDuration <= 0 {
		c.FrameDuration = 250 * time.Millisecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
}

// Resampler pulls audio from a Source and emits engine-format frames.
type Resampler struct {
	src    Source
	cfg    Config
	frames chan types.AudioFrame

	srcRate     int
	srcChannels int

	// pending accumulates device-rate mono samples between emissions.
	pending []float32
	// samplesPerFrame is how many device-rate samples one frame consumes.
	samplesPerFrame int
	// emitted tracks total audio emitted so far, stamped onto each frame.
	emitted time.Duration
}

// NewResampler creates a Resampler over the given source. It fails with a
// DeviceUnavailable error if the source reports an unusable format.
func NewResampler(src Source, cfg Config) (*Resampler, error) {
	cfg.applyDefaults()

	format := src.Format()
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, &types.EngineError{
			Kind: types.KindDeviceUnavailable,
			Op:   "capture.open",
			Err:  fmt.Errorf("unusable device format %+v", format),
		}
	}

	r := &Resampler{
		src:         src,
		cfg:         cfg,
		frames:      make(chan types.AudioFrame, cfg.QueueDepth),
		srcRate:     format.SampleRate,
		srcChannels: format.Channels,
	}
	r.samplesPerFrame = int(int64(format.SampleRate) * int64(cfg.FrameDuration) / int64(time.Second))
	return r, nil
}

// Start begins capture and frame emission. It returns immediately; frames
// arrive on Frames until ctx is cancelled or Close is called. A failure to
// open the device is reported with a PermissionDenied or DeviceUnavailable
// kind, never as silent empty audio.
func (r *Resampler) Start(ctx context.Context) error {
	err := r.src.Start(func(samples []float32) {
		r.ingest(ctx, samples)
	})
	if err != nil {
		// Preserve a kind the source already classified; otherwise treat an
		// open failure as the device being unavailable.
		if types.KindOf(err) != types.KindUnknown {
			return err
		}
		return &types.EngineError{Kind: types.KindDeviceUnavailable, Op: "capture.open", Err: err}
	}
	return nil
}

// Frames returns the channel of emitted engine-format frames.
func (r *Resampler) Frames() <-chan types.AudioFrame { return r.frames }

// Close stops capture and closes the frame channel. Any buffered partial
// audio shorter than one frame is discarded.
func (r *Resampler) Close() error {
	err := r.src.Close()
	close(r.frames)
	return err
}

// ingest is called from the device capture thread. It downmixes the callback
// slice, appends it to the pending buffer, and emits as many full frames as
// the buffer now covers. It never blocks: under back-pressure the oldest
// queued frame is dropped.
func (r *Resampler) ingest(ctx context.Context, samples []float32) {
	if ctx.Err() != nil {
		return
	}

	mono := samples
	if r.srcChannels > 1 {
		mono = audio.DownmixFloat32(samples, r.srcChannels)
	}
	r.pending = append(r.pending, mono...)

	for len(r.pending) >= r.samplesPerFrame {
		chunk := r.pending[:r.samplesPerFrame]
		r.pending = r.pending[r.samplesPerFrame:]
		r.emit(r.convert(chunk))
	}
}

// convert resamples one device-rate chunk to the engine rate and quantizes it
// to PCM16 with clamping and symmetric scaling.
func (r *Resampler) convert(chunk []float32) types.AudioFrame {
	resampled := chunk
	if r.srcRate != types.EngineSampleRate {
		resampled = audio.ResampleFloat32(chunk, r.srcRate, types.EngineSampleRate)
	}
	frame := types.AudioFrame{
		Data:       audio.QuantizePCM16(resampled),
		SampleRate: types.EngineSampleRate,
		Channels:   1,
		Timestamp:  r.emitted,
	}
	r.emitted += frame.Duration()
	return frame
}

// emit queues a frame, dropping the oldest queued frame when full so the
// capture callback never stalls.
func (r *Resampler) emit(frame types.AudioFrame) {
	select {
	case r.frames <- frame:
	default:
		select {
		case <-r.frames:
		default:
		}
		select {
		case r.frames <- frame:
		default:
		}
	}
}
