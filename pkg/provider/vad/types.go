package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64

	// SpeechMs is the length of the just-ended speech segment in
	// milliseconds. Set only on VADSpeechEnd and VADMisfire.
	SpeechMs int
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

	// VADMisfire indicates the just-ended speech segment was shorter than the
	// configured minimum speech duration and should be ignored entirely.
	VADMisfire
)
