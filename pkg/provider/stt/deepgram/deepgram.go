// Package deepgram provides a Deepgram-backed transcription provider using
// the Deepgram streaming WebSocket API. It implements the stt.Provider
// interface, including the keepalive mode used while the engine mutes the
// microphone during AI playback.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = types.EngineSampleRate

	// defaultEndpointing is the service-side silence window in milliseconds
	// after which a final is flagged speech_final.
	defaultEndpointing = 300
)

// keepAliveMessage is the no-op text frame that keeps the Deepgram socket
// open while no audio is flowing.
var keepAliveMessage = []byte(`{"type":"KeepAlive"}`)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, &types.EngineError{Kind: types.KindNetwork, Op: "stt.dial", Err: err}
	}

	sess := &session{
		conn:        conn,
		transcripts: make(chan types.Transcript, 64),
		events:      make(chan types.SpeechEvent, 16),
		errs:        make(chan error, 1),
		audio:       make(chan []byte, 256),
		done:        make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	endpointing := cfg.EndpointingMs
	if endpointing == 0 {
		endpointing = defaultEndpointing
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("vad_events", "true")
	q.Set("endpointing", strconv.Itoa(endpointing))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramMessage is the union of JSON structures Deepgram sends over the
// socket. Type discriminates: "Results", "SpeechStarted", "UtteranceEnd",
// "Metadata", or "Error".
type deepgramMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	LastWordEnd float64 `json:"last_word_end"`
	Description string  `json:"description"`
	Message     string  `json:"message"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn        *websocket.Conn
	transcripts chan types.Transcript
	events      chan types.SpeechEvent
	errs        chan error
	audio       chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// speechStart tracks the most recent SpeechStarted time reported by the
	// service, used to compute the duration on UtteranceEnd.
	speechStart float64
}

var _ stt.SessionHandle = (*session)(nil)

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// KeepAlive sends the Deepgram keepalive text frame. Unlike audio, keepalives
// bypass the audio queue so a full queue cannot delay them past the service's
// idle timeout.
func (s *session) KeepAlive() error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	return s.conn.Write(context.Background(), websocket.MessageText, keepAliveMessage)
}

// Transcripts returns the channel of interim and final transcripts.
func (s *session) Transcripts() <-chan types.Transcript { return s.transcripts }

// Events returns the channel of speech-boundary events.
func (s *session) Events() <-chan types.SpeechEvent { return s.events }

// Errors returns the channel carrying hard session errors.
func (s *session) Errors() <-chan error { return s.errs }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// transcript and event channels. An unexpected read failure (other than a
// requested close) is surfaced once on the error channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.transcripts)
	defer close(s.events)
	defer close(s.errs)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Requested close; not an error.
			default:
				s.errs <- &types.EngineError{Kind: types.KindTranscription, Op: "stt.read", Err: err}
			}
			return
		}
		s.dispatch(msg)
	}
}

// dispatch parses one raw Deepgram message and forwards the result.
func (s *session) dispatch(raw []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "Results":
		t, ok := parseResults(msg)
		if !ok {
			return
		}
		select {
		case s.transcripts <- t:
		case <-s.done:
		}

	case "SpeechStarted":
		s.speechStart = msg.Start
		s.emitEvent(types.SpeechEvent{
			Type:   types.SpeechStarted,
			Source: types.SourceTranscription,
		})

	case "UtteranceEnd":
		dur := msg.LastWordEnd - s.speechStart
		if dur < 0 {
			dur = 0
		}
		s.emitEvent(types.SpeechEvent{
			Type:     types.SpeechEnded,
			Source:   types.SourceTranscription,
			Duration: time.Duration(dur * float64(time.Second)),
		})

	case "Error":
		detail := msg.Description
		if detail == "" {
			detail = msg.Message
		}
		select {
		case s.errs <- &types.EngineError{
			Kind: types.KindTranscription,
			Op:   "stt.service",
			Err:  errors.New(detail),
		}:
		default:
			// An error is already pending; keep the first one.
		}

	case "Metadata":
		// Connection metadata; nothing to surface.
	}
}

// emitEvent forwards a speech event unless the session is closing.
func (s *session) emitEvent(ev types.SpeechEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// parseResults converts a Results message into a Transcript.
// Returns (zero, false) if the message carries no usable alternative.
func parseResults(msg deepgramMessage) (types.Transcript, bool) {
	if len(msg.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	alt := msg.Channel.Alternatives[0]
	return types.Transcript{
		Text:             alt.Transcript,
		IsFinal:          msg.IsFinal,
		IsUtteranceFinal: msg.IsFinal && msg.SpeechFinal,
		Confidence:       alt.Confidence,
		Timestamp:        time.Duration(msg.Start * float64(time.Second)),
		Duration:         time.Duration(msg.Duration * float64(time.Second)),
	}, true
}
