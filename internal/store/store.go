// Package store defines the engine's external persistence collaborators: the
// conversation turn store and the entitlement service. Both are treated as
// fallible remote calls with no transactionality assumed across them.
package store

import (
	"context"
	"sync"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// TurnStore persists completed conversation turns.
type TurnStore interface {
	// AppendTurn records one completed turn for a session.
	AppendTurn(ctx context.Context, sessionID string, turn types.ConversationTurn) error

	// ListTurns returns a session's turns in sequence order.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error)
}

// Entitlements answers whether a session may continue generating responses.
type Entitlements interface {
	// MayContinue reports whether the session is entitled to another AI
	// response. A false result is a policy decision, not an error.
	MayContinue(ctx context.Context, sessionID string) (bool, error)
}

// AllowAll is an Entitlements implementation that always permits generation.
// It is the default when no billing backend is configured.
type AllowAll struct{}

// MayContinue implements Entitlements.
func (AllowAll) MayContinue(context.Context, string) (bool, error) { return true, nil }

// MemoryTurnStore is an in-memory TurnStore for tests and single-node
// deployments without PostgreSQL.
type MemoryTurnStore struct {
	mu    sync.Mutex
	turns map[string][]types.ConversationTurn
}

// NewMemoryTurnStore creates an empty MemoryTurnStore.
func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{turns: make(map[string][]types.ConversationTurn)}
}

var _ TurnStore = (*MemoryTurnStore)(nil)

// AppendTurn implements TurnStore.
func (s *MemoryTurnStore) AppendTurn(_ context.Context, sessionID string, turn types.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// ListTurns implements TurnStore.
func (s *MemoryTurnStore) ListTurns(_ context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]types.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}
