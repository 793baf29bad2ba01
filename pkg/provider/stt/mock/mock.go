// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript and SpeechEvent
// values and inspect which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitTranscript(types.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a fresh NewSession().
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream in order.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Session is a mock implementation of stt.SessionHandle. Tests push output
// through EmitTranscript / EmitEvent / EmitError and read delivered audio via
// Sent.
type Session struct {
	mu sync.Mutex

	transcripts chan types.Transcript
	events      chan types.SpeechEvent
	errs        chan error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// KeepAliveErr, if non-nil, is returned by every KeepAlive call.
	KeepAliveErr error

	sent       [][]byte
	keepAlives int
	closed     bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered output channels.
func NewSession() *Session {
	return &Session{
		transcripts: make(chan types.Transcript, 16),
		events:      make(chan types.SpeechEvent, 16),
		errs:        make(chan error, 1),
	}
}

// EmitTranscript delivers a transcript to the Transcripts channel.
func (s *Session) EmitTranscript(t types.Transcript) { s.transcripts <- t }

// EmitEvent delivers a speech event to the Events channel.
func (s *Session) EmitEvent(ev types.SpeechEvent) { s.events <- ev }

// EmitError delivers an error to the Errors channel.
func (s *Session) EmitError(err error) { s.errs <- err }

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// KeepAlive implements stt.SessionHandle.
func (s *Session) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.KeepAliveErr != nil {
		return s.KeepAliveErr
	}
	s.keepAlives++
	return nil
}

// Transcripts implements stt.SessionHandle.
func (s *Session) Transcripts() <-chan types.Transcript { return s.transcripts }

// Events implements stt.SessionHandle.
func (s *Session) Events() <-chan types.SpeechEvent { return s.events }

// Errors implements stt.SessionHandle.
func (s *Session) Errors() <-chan error { return s.errs }

// Close implements stt.SessionHandle. It closes the output channels; calling
// it more than once is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.transcripts)
	close(s.events)
	close(s.errs)
	return nil
}

// Sent returns a copy of the audio chunks delivered via SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// KeepAlives reports the number of KeepAlive calls.
func (s *Session) KeepAlives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlives
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
