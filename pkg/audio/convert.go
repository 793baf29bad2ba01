package audio

import "math"

// Quantization scale factors for float→int16 conversion. Negative values are
// scaled by 0x8000 and positive values by 0x7fff so that -1.0 and +1.0 map to
// the exact int16 extremes without a one-bit bias toward either side.
const (
	negScale = 0x8000
	posScale = 0x7fff
)

// QuantizePCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Values outside [-1, 1] are clamped before quantization.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := quantizeSample(float64(v))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DequantizePCM16 converts little-endian int16 PCM back to float samples,
// using the same symmetric scaling as QuantizePCM16.
func DequantizePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if s < 0 {
			out[i] = float32(float64(s) / negScale)
		} else {
			out[i] = float32(float64(s) / posScale)
		}
	}
	return out
}

// quantizeSample clamps v to [-1, 1] and scales it to int16 range.
func quantizeSample(v float64) int16 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	if v < 0 {
		return int16(math.Round(v * negScale))
	}
	return int16(math.Round(v * posScale))
}

// ResampleFloat32 resamples mono float samples from srcRate to dstRate using
// linear interpolation: for each output index i the fractional source position
// is i*(srcRate/dstRate), interpolated between the floor and ceil source
// samples. If srcRate == dstRate the input is returned unchanged.
func ResampleFloat32(src []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(src) == 0 {
		return src
	}
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := src[srcIdx]
		s1 := s0
		if srcIdx+1 < len(src) {
			s1 = src[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	// Each stereo frame is 4 bytes (2 bytes L + 2 bytes R).
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		// Clamp to int16 range.
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// DownmixFloat32 averages interleaved multi-channel float samples to mono.
// For channels == 1 the input is returned unchanged.
func DownmixFloat32(src []float32, channels int) []float32 {
	if channels <= 1 {
		return src
	}
	frames := len(src) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += float64(src[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// PCMDuration returns the playback duration in nanoseconds of PCM16 data at
// the given format, expressed as an integer count of nanoseconds to avoid
// float drift in scheduling math.
func PCMDuration(pcm []byte, f Format) int64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := int64(len(pcm)) / 2 / int64(f.Channels)
	return samples * 1e9 / int64(f.SampleRate)
}
