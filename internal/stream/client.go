package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// ClientEvents receives the server's response events on the client side of
// the voice stream. Nil callbacks are skipped. Callbacks run on the Run
// goroutine, in the order the server emitted the events.
type ClientEvents struct {
	// Started signals that generation began for a user turn.
	Started func(userTurnID string)

	// Text delivers one incremental LLM token.
	Text func(token string)

	// Audio delivers one synthesized sentence, ready for the playback
	// scheduler.
	Audio func(chunk types.AudioChunk)

	// Done signals successful completion of one response stream.
	Done func(fullText string, sentenceCount int, aiTurnID string, latency time.Duration)

	// Error delivers a terminal failure message for one response stream.
	Error func(msg string)
}

// Client is the session's end of the voice stream websocket: it submits
// finalized utterances, decodes the server's event frames, and carries the
// cancel frame that makes a barge-in authoritative on the server.
type Client struct {
	conn *websocket.Conn
	ev   ClientEvents
	log  *slog.Logger
}

// DialClient connects to a server's voice stream. serverURL is the base URL
// ("ws://host:8080" or "http://host:8080"); sessionID names the conversation
// session on the server.
func DialClient(ctx context.Context, serverURL, sessionID string, ev ClientEvents, logger *slog.Logger) (*Client, error) {
	if sessionID == "" {
		return nil, errors.New("stream: session id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := strings.TrimRight(serverURL, "/") + "/v1/voice/stream?session=" + url.QueryEscape(sessionID)
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, &types.EngineError{Kind: types.KindNetwork, Op: "stream.dial", Err: err}
	}

	return &Client{
		conn: conn,
		ev:   ev,
		log:  logger.With("component", "stream.client", "session", sessionID),
	}, nil
}

// Run reads server events and dispatches them until ctx is cancelled or the
// connection closes. A normal closure returns nil.
func (c *Client) Run(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return &types.EngineError{Kind: types.KindNetwork, Op: "stream.read", Err: err}
		}
		c.dispatch(data)
	}
}

// SendUtterance submits one finalized user utterance for response generation.
func (c *Client) SendUtterance(ctx context.Context, text string) error {
	return c.write(ctx, clientMessage{Type: ClientUtterance, Text: text})
}

// Cancel invalidates the in-flight generation on the server. The barge-in
// coordinator calls it so the server stops producing audio for a response
// the user already talked over.
func (c *Client) Cancel(ctx context.Context) error {
	return c.write(ctx, clientMessage{Type: ClientCancel})
}

// Close closes the websocket with a normal closure.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) write(ctx context.Context, msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &types.EngineError{Kind: types.KindNetwork, Op: "stream.write", Err: err}
	}
	return nil
}

// dispatch decodes one server frame and invokes the matching callback.
// Malformed or unknown frames are logged and skipped; a stream must survive a
// server that is newer than its client.
func (c *Client) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.log.Debug("malformed server frame", "error", err)
		return
	}

	switch head.Type {
	case TypeStarted:
		var ev startedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("malformed started frame", "error", err)
			return
		}
		if c.ev.Started != nil {
			c.ev.Started(ev.UserTurnID)
		}

	case TypeText:
		var ev textEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("malformed text frame", "error", err)
			return
		}
		if c.ev.Text != nil {
			c.ev.Text(ev.Token)
		}

	case TypeAudio:
		var ev audioEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("malformed audio frame", "error", err)
			return
		}
		if c.ev.Audio != nil {
			c.ev.Audio(types.AudioChunk{
				SentenceIndex: ev.SentenceIndex,
				Payload:       ev.Payload,
				Encoding:      types.ChunkEncoding(ev.Encoding),
				SampleRate:    types.EngineSampleRate,
				Generation:    ev.Generation,
				Text:          ev.Text,
			})
		}

	case TypeDone:
		var ev doneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("malformed done frame", "error", err)
			return
		}
		if c.ev.Done != nil {
			c.ev.Done(ev.FullText, ev.SentenceCount, ev.AITurnID, time.Duration(ev.LatencyMS)*time.Millisecond)
		}

	case TypeError:
		var ev errorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("malformed error frame", "error", err)
			return
		}
		if c.ev.Error != nil {
			c.ev.Error(ev.Message)
		}

	default:
		c.log.Debug("unknown server frame type", "type", head.Type)
	}
}
