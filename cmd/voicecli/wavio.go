package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/audio"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// fileSource streams a WAV recording as if it were a live microphone,
// delivering 10 ms callback slices in real time at the file's native format.
type fileSource struct {
	samples []float32
	format  audio.Format
	done    chan struct{}
	once    sync.Once
}

func newFileSource(path string) (*fileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fileSource{
		samples: audio.DequantizePCM16(pcm),
		format:  f,
		done:    make(chan struct{}),
	}, nil
}

func (s *fileSource) Start(cb func(samples []float32)) error {
	// 10 ms per callback, interleaved samples.
	step := s.format.SampleRate * s.format.Channels / 100
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for off := 0; off < len(s.samples); off += step {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
			end := min(off+step, len(s.samples))
			cb(s.samples[off:end])
		}
	}()
	return nil
}

func (s *fileSource) Format() audio.Format { return s.format }

func (s *fileSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fileOutput collects scheduled response audio against the wall clock and
// writes the assembled timeline out as one WAV file. A Stop discards segments
// whose start time has not been reached, mirroring what a hard device stop
// would have kept audible.
type fileOutput struct {
	mu    sync.Mutex
	start time.Time
	rate  int
	segs  []segment
	path  string
}

type segment struct {
	at  time.Duration
	pcm []byte
}

func newFileOutput(path string) *fileOutput {
	return &fileOutput{
		start: time.Now(),
		rate:  types.EngineSampleRate,
		path:  path,
	}
}

func (o *fileOutput) Now() time.Duration { return time.Since(o.start) }

func (o *fileOutput) PlayAt(pcm []byte, sampleRate int, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	o.rate = sampleRate
	o.segs = append(o.segs, segment{at: at, pcm: cp})
	return nil
}

func (o *fileOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Since(o.start)
	kept := o.segs[:0]
	for _, seg := range o.segs {
		if seg.at <= now {
			kept = append(kept, seg)
		}
	}
	o.segs = kept
	return nil
}

// WriteFile lays the collected segments onto one mono timeline and encodes it.
// A session with no played audio writes nothing.
func (o *fileOutput) WriteFile() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.segs) == 0 {
		return nil
	}

	var total time.Duration
	for _, seg := range o.segs {
		end := seg.at + time.Duration(len(seg.pcm)/2)*time.Second/time.Duration(o.rate)
		if end > total {
			total = end
		}
	}
	buf := make([]byte, int(int64(o.rate)*int64(total)/int64(time.Second))*2)
	for _, seg := range o.segs {
		off := int(int64(o.rate)*int64(seg.at)/int64(time.Second)) * 2
		copy(buf[off:], seg.pcm)
	}

	wav := audio.EncodeWAV(buf, audio.Format{SampleRate: o.rate, Channels: 1})
	return os.WriteFile(o.path, wav, 0o644)
}
