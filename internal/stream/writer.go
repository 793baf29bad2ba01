package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// ErrStreamClosed is returned by Send after the writer has closed.
var ErrStreamClosed = errors.New("stream: writer closed")

// SendFunc delivers one marshalled frame to the client. The server wraps the
// websocket connection's write; tests substitute a recorder.
type SendFunc func(ctx context.Context, data []byte) error

// Writer carries one response stream to the client. It implements the
// generation orchestrator's sink: Done and Error both close the stream, and
// the closed flag guarantees the close happens exactly once — anything
// emitted afterwards is dropped, not delivered out of order after a terminal
// event.
//
// All sends go through one mutex, so concurrent emitters never interleave
// partial frames.
type Writer struct {
	mu     sync.Mutex
	closed bool
	ctx    context.Context
	send   SendFunc
	log    *slog.Logger
}

// NewWriter builds a Writer that delivers frames via send under ctx.
func NewWriter(ctx context.Context, send SendFunc, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		ctx:  ctx,
		send: send,
		log:  logger.With("component", "stream"),
	}
}

// Send marshals v and delivers it, unless the stream already closed.
func (w *Writer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStreamClosed
	}
	return w.send(w.ctx, data)
}

// close marks the stream closed. Returns false if it was already closed.
func (w *Writer) close() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.closed = true
	return true
}

// Closed reports whether a terminal event has been sent.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Started implements the orchestrator sink.
func (w *Writer) Started(userTurnID string) {
	w.emit(startedEvent{Type: TypeStarted, UserTurnID: userTurnID})
}

// Text implements the orchestrator sink.
func (w *Writer) Text(token string) {
	w.emit(textEvent{Type: TypeText, Token: token})
}

// Audio implements the orchestrator sink.
func (w *Writer) Audio(chunk types.AudioChunk) {
	w.emit(audioEvent{
		Type:          TypeAudio,
		SentenceIndex: chunk.SentenceIndex,
		Payload:       chunk.Payload,
		Encoding:      string(chunk.Encoding),
		Text:          chunk.Text,
		Generation:    chunk.Generation,
	})
}

// Done implements the orchestrator sink and closes the stream.
func (w *Writer) Done(fullText string, sentenceCount int, aiTurnID string, latency time.Duration) {
	w.emit(doneEvent{
		Type:          TypeDone,
		FullText:      fullText,
		SentenceCount: sentenceCount,
		AITurnID:      aiTurnID,
		LatencyMS:     latency.Milliseconds(),
	})
	w.close()
}

// Error implements the orchestrator sink and closes the stream.
func (w *Writer) Error(msg string) {
	w.emit(errorEvent{Type: TypeError, Message: msg})
	w.close()
}

func (w *Writer) emit(v any) {
	if err := w.Send(v); err != nil && !errors.Is(err, ErrStreamClosed) {
		w.log.Debug("dropped stream event", "error", err)
	}
}
