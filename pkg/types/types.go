// Package types defines the shared data model used across all engine packages.
//
// These types form the lingua franca between the capture pipeline, the
// detectors, the turn-fusion state machine, the generation orchestrator, and
// the playback scheduler. Each package defines its own domain types; only
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// EngineSampleRate is the canonical sample rate of the engine. Every audio
// frame leaving the capture resampler is at this rate, mono, 16-bit PCM,
// regardless of the native device rate.
const EngineSampleRate = 16000

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from the
// microphone, processed by VAD, and streamed to the transcription service.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz. Frames emitted by the capture resampler are always
	// at EngineSampleRate.
	SampleRate int

	// Channels: 1 for mono (the engine's canonical format).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// SpeechEventType enumerates the boundary signals produced by a speech
// detector (neural VAD or the transcription service's endpointing).
type SpeechEventType int

const (
	// SpeechStarted indicates the detector believes speech has begun.
	SpeechStarted SpeechEventType = iota

	// SpeechEnded indicates the detector believes speech has stopped.
	SpeechEnded

	// SpeechMisfire reclassifies a detected spurt that was shorter than the
	// minimum speech duration. Misfires never open a user turn.
	SpeechMisfire
)

// String returns the human-readable name of the event type.
func (t SpeechEventType) String() string {
	switch t {
	case SpeechStarted:
		return "started"
	case SpeechEnded:
		return "ended"
	case SpeechMisfire:
		return "misfire"
	default:
		return "unknown"
	}
}

// SpeechSource identifies which detector produced a SpeechEvent. The two
// sources are independent and never assumed to be temporally aligned.
type SpeechSource int

const (
	// SourceVAD is the local neural voice activity detector.
	SourceVAD SpeechSource = iota

	// SourceTranscription is the remote transcription service's endpointing.
	SourceTranscription
)

// String returns the human-readable name of the source.
func (s SpeechSource) String() string {
	switch s {
	case SourceVAD:
		return "vad"
	case SourceTranscription:
		return "transcription"
	default:
		return "unknown"
	}
}

// SpeechEvent is a boundary signal from one of the two speech detectors.
type SpeechEvent struct {
	// Type is the boundary kind.
	Type SpeechEventType

	// Source identifies the detector that raised the event.
	Source SpeechSource

	// Duration is the length of the detected speech segment. Set only on
	// SpeechEnded and SpeechMisfire events.
	Duration time.Duration
}

// Transcript represents a speech-to-text result from the transcription
// service. Both interim and final transcripts use this type. Interim
// transcripts replace the previous interim wholesale; finals accumulate into
// the pending utterance buffer until the utterance is judged complete.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates a committed (authoritative) recognition result as
	// opposed to a low-latency interim guess.
	IsFinal bool

	// IsUtteranceFinal indicates the service judged the utterance complete
	// (Deepgram speech_final). Only meaningful when IsFinal is true.
	IsUtteranceFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	// SpeakerUser marks a turn spoken by the human.
	SpeakerUser Speaker = "user"

	// SpeakerAI marks a turn generated by the model.
	SpeakerAI Speaker = "ai"
)

// ConversationTurn is the durable record of one completed utterance, handed
// to the external persistence collaborator. The engine constructs turns but
// never owns their storage.
type ConversationTurn struct {
	// ID is the unique identifier assigned when the turn is created.
	ID string

	// Speaker is who produced the turn.
	Speaker Speaker

	// Text is the full turn text.
	Text string

	// SequenceOrder is the turn's position within the session.
	SequenceOrder int

	// StartedAt is when the turn began.
	StartedAt time.Time

	// Duration is the length of the spoken utterance, when known.
	Duration time.Duration
}

// ChunkEncoding names the payload format of an AudioChunk.
type ChunkEncoding string

const (
	// EncodingPCM16 is raw little-endian 16-bit PCM.
	EncodingPCM16 ChunkEncoding = "pcm16"

	// EncodingOpus is an Opus packet that must be decoded before scheduling.
	EncodingOpus ChunkEncoding = "opus"
)

// AudioChunk is the unit of synthesized audio streamed from the generation
// orchestrator to the playback scheduler.
type AudioChunk struct {
	// SentenceIndex orders chunks by the sentence they belong to. Within one
	// generation, all of sentence N's chunks precede sentence N+1's.
	SentenceIndex int

	// Payload is the encoded audio data.
	Payload []byte

	// Encoding names the payload format.
	Encoding ChunkEncoding

	// SampleRate of the decoded audio in Hz.
	SampleRate int

	// Generation is the GenerationToken captured when this chunk's response
	// began. Chunks whose generation is no longer current are discarded, not
	// delivered.
	Generation uint64

	// Text is the sentence this chunk was synthesized from, when known.
	Text string
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence

	// VADMisfire indicates a speech spurt shorter than the configured minimum
	// duration; it is reported instead of VADSpeechEnd so downstream logic can
	// ignore the segment entirely.
	VADMisfire
)
