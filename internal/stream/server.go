package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Hakan2211/memdia-sub000/internal/generate"
	"github.com/Hakan2211/memdia-sub000/internal/store"
	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// historyLimit caps how many stored turns are replayed into the LLM context
// per response.
const historyLimit = 50

// Responder runs one generation for a finalized user turn. The generation
// orchestrator satisfies it.
type Responder interface {
	Respond(ctx context.Context, req generate.Request) error
}

// Server exposes the voice stream websocket and the cancellation endpoint.
type Server struct {
	registry  *generate.Registry
	responder Responder
	turns     store.TurnStore
	log       *slog.Logger
}

// NewServer builds a Server. turns may be nil, disabling history and
// persistence of user turns.
func NewServer(registry *generate.Registry, responder Responder, turns store.TurnStore, logger *slog.Logger) (*Server, error) {
	if registry == nil {
		return nil, errors.New("stream: registry is required")
	}
	if responder == nil {
		return nil, errors.New("stream: responder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  registry,
		responder: responder,
		turns:     turns,
		log:       logger.With("component", "stream"),
	}, nil
}

// Register adds the voice routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voice/stream", s.HandleStream)
	mux.HandleFunc("POST /v1/voice/cancel", s.HandleCancel)
}

// HandleStream upgrades the request to a websocket and serves the session
// until the client disconnects. Each utterance message produces one response
// stream; a cancel message invalidates the in-flight generation.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	auth := s.registry.Acquire(sessionID)
	defer s.registry.Release(sessionID)

	s.log.Info("session connected", "session", sessionID)
	s.serve(r.Context(), conn, sessionID, auth)
	s.log.Info("session disconnected", "session", sessionID)
}

// serve runs the connection's read loop. Responses run on a separate
// goroutine so a cancel frame can be read while a generation is in flight.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn, sessionID string, auth *generate.TokenAuthority) {
	var inflight chan struct{}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				conn.Close(websocket.StatusNormalClosure, "")
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("malformed client frame", "session", sessionID, "error", err)
			continue
		}

		switch msg.Type {
		case ClientUtterance:
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			// One response at a time per connection.
			if inflight != nil {
				<-inflight
			}
			inflight = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				s.respond(ctx, conn, sessionID, auth, text)
			}(inflight)

		case ClientCancel:
			gen := auth.Bump()
			s.log.Info("generation cancelled", "session", sessionID, "generation", gen)

		default:
			s.log.Debug("unknown client frame type", "session", sessionID, "type", msg.Type)
		}
	}

	if inflight != nil {
		<-inflight
	}
}

// respond persists the user turn and runs one generation, streaming its
// events back over the connection.
func (s *Server) respond(ctx context.Context, conn *websocket.Conn, sessionID string, auth *generate.TokenAuthority, text string) {
	var history []types.ConversationTurn
	if s.turns != nil {
		var err error
		history, err = s.turns.ListTurns(ctx, sessionID, historyLimit)
		if err != nil {
			s.log.Warn("failed to load turn history", "session", sessionID, "error", err)
		}
	}

	seq := 1
	if n := len(history); n > 0 {
		seq = history[n-1].SequenceOrder + 1
	}
	userTurn := types.ConversationTurn{
		ID:            uuid.NewString(),
		Speaker:       types.SpeakerUser,
		Text:          text,
		SequenceOrder: seq,
		StartedAt:     time.Now(),
	}
	if s.turns != nil {
		if err := s.turns.AppendTurn(ctx, sessionID, userTurn); err != nil {
			s.log.Warn("failed to persist user turn", "session", sessionID, "error", err)
		}
	}

	writer := NewWriter(ctx, func(ctx context.Context, data []byte) error {
		return conn.Write(ctx, websocket.MessageText, data)
	}, s.log)

	err := s.responder.Respond(ctx, generate.Request{
		SessionID: sessionID,
		UserTurn:  userTurn,
		History:   generate.History(history),
		Authority: auth,
		Sink:      writer,
	})
	switch {
	case err == nil:
	case types.KindOf(err) == types.KindStaleGeneration:
		s.log.Debug("response superseded", "session", sessionID, "turn", userTurn.ID)
	default:
		s.log.Error("response failed", "session", sessionID, "turn", userTurn.ID, "error", err)
	}
}

// HandleCancel invalidates a session's in-flight generation and returns the
// new current generation. Idempotent in the monotone sense: repeated cancels
// return strictly increasing generations, never a smaller one.
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	auth, ok := s.registry.Lookup(req.SessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	gen := auth.Bump()
	s.log.Info("generation cancelled", "session", req.SessionID, "generation", gen)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(cancelResponse{Generation: gen}); err != nil {
		s.log.Debug("failed to write cancel response", "error", err)
	}
}
