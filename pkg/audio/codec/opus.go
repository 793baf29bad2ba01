// Package codec decodes encoded audio chunk payloads into raw PCM16 for the
// playback scheduler. PCM16 payloads pass through untouched; Opus payloads go
// through a stateful gopus decoder (one decoder per stream, since Opus
// decoders carry state between consecutive packets).
package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/Hakan2211/memdia-sub000/pkg/audio"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// maxOpusFrameSize is the largest Opus frame the decoder will produce:
// 120 ms at 48 kHz per channel.
const maxOpusFrameSize = 5760

// ChunkDecoder converts AudioChunk payloads to raw PCM16 bytes.
// Not safe for concurrent use; create one per playback stream.
type ChunkDecoder struct {
	channels int
	opusDec  *gopus.Decoder
}

// NewChunkDecoder creates a decoder for the given channel count.
func NewChunkDecoder(channels int) *ChunkDecoder {
	if channels <= 0 {
		channels = 1
	}
	return &ChunkDecoder{channels: channels}
}

// Decode returns the chunk payload as little-endian PCM16 bytes.
func (d *ChunkDecoder) Decode(chunk types.AudioChunk) ([]byte, error) {
	switch chunk.Encoding {
	case types.EncodingPCM16, "":
		return chunk.Payload, nil
	case types.EncodingOpus:
		return d.decodeOpus(chunk)
	default:
		return nil, fmt.Errorf("codec: unsupported chunk encoding %q", chunk.Encoding)
	}
}

// decodeOpus lazily creates the stateful Opus decoder on first use and
// decodes a single packet.
func (d *ChunkDecoder) decodeOpus(chunk types.AudioChunk) ([]byte, error) {
	if d.opusDec == nil {
		rate := chunk.SampleRate
		if rate == 0 {
			rate = types.EngineSampleRate
		}
		dec, err := gopus.NewDecoder(rate, d.channels)
		if err != nil {
			return nil, fmt.Errorf("codec: create opus decoder: %w", err)
		}
		d.opusDec = dec
	}
	pcm, err := d.opusDec.Decode(chunk.Payload, maxOpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}
