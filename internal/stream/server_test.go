package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Hakan2211/memdia-sub000/internal/generate"
	"github.com/Hakan2211/memdia-sub000/internal/store"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// scriptedResponder emits a fixed event sequence through the sink.
type scriptedResponder struct {
	gotText chan string
}

func (r *scriptedResponder) Respond(_ context.Context, req generate.Request) error {
	gen := req.Authority.Bump()
	req.Sink.Started(req.UserTurn.ID)
	req.Sink.Text("Hi ")
	req.Sink.Text("there.")
	req.Sink.Audio(types.AudioChunk{
		SentenceIndex: 0,
		Payload:       []byte{0xAA},
		Encoding:      types.EncodingPCM16,
		Generation:    gen,
		Text:          "Hi there.",
	})
	req.Sink.Done("Hi there.", 1, "ai-1", 500*time.Millisecond)
	if r.gotText != nil {
		r.gotText <- req.UserTurn.Text
	}
	return nil
}

func newTestServer(t *testing.T, responder Responder, turns store.TurnStore) (*Server, *generate.Registry, *httptest.Server) {
	t.Helper()
	registry := generate.NewRegistry()
	s, err := NewServer(registry, responder, turns, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, registry, srv
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame %q: %v", data, err)
	}
	return m
}

func TestHandleStream_UtteranceProducesResponse(t *testing.T) {
	t.Parallel()
	responder := &scriptedResponder{gotText: make(chan string, 1)}
	turns := store.NewMemoryTurnStore()
	_, _, srv := newTestServer(t, responder, turns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/voice/stream?session=sess-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	utterance := `{"type":"utterance","text":"how are you?"}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(utterance)); err != nil {
		t.Fatalf("write: %v", err)
	}

	wantTypes := []string{TypeStarted, TypeText, TypeText, TypeAudio, TypeDone}
	for _, want := range wantTypes {
		frame := readFrame(t, ctx, conn)
		if frame["type"] != want {
			t.Fatalf("frame type = %v, want %s", frame["type"], want)
		}
	}

	if got := <-responder.gotText; got != "how are you?" {
		t.Errorf("responder saw %q", got)
	}
	stored, _ := turns.ListTurns(context.Background(), "sess-1", 0)
	if len(stored) != 1 || stored[0].Speaker != types.SpeakerUser {
		t.Errorf("stored turns = %+v, want the user turn", stored)
	}
}

func TestHandleStream_MissingSession(t *testing.T) {
	t.Parallel()
	_, _, srv := newTestServer(t, &scriptedResponder{}, nil)

	resp, err := http.Get(srv.URL + "/v1/voice/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStream_CancelFrameBumpsGeneration(t *testing.T) {
	t.Parallel()
	_, registry, srv := newTestServer(t, &scriptedResponder{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/voice/stream?session=sess-c"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"cancel"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if auth, ok := registry.Lookup("sess-c"); ok && auth.Current() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cancel frame did not bump the generation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleCancel(t *testing.T) {
	t.Parallel()
	_, registry, srv := newTestServer(t, &scriptedResponder{}, nil)

	// The session must be live for cancellation to find its authority.
	registry.Acquire("sess-2")
	t.Cleanup(func() { registry.Release("sess-2") })

	post := func(body string) (*http.Response, cancelResponse) {
		t.Helper()
		resp, err := http.Post(srv.URL+"/v1/voice/cancel", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var cr cancelResponse
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		return resp, cr
	}

	resp, cr := post(`{"session_id":"sess-2"}`)
	if resp.StatusCode != http.StatusOK || cr.Generation != 1 {
		t.Fatalf("first cancel: status %d, generation %d", resp.StatusCode, cr.Generation)
	}

	// Monotone: a repeated cancel returns a strictly larger generation.
	resp, cr = post(`{"session_id":"sess-2"}`)
	if resp.StatusCode != http.StatusOK || cr.Generation != 2 {
		t.Fatalf("second cancel: status %d, generation %d", resp.StatusCode, cr.Generation)
	}

	resp, _ = post(`{"session_id":"nobody"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", resp.StatusCode)
	}

	resp, _ = post(`{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body: status %d, want 400", resp.StatusCode)
	}
}
