// Package generate produces the AI side of a conversation: it streams LLM
// tokens for a finalized user utterance, segments them into sentences,
// synthesizes each sentence concurrently, and emits audio chunks in sentence
// order — all under a per-session generation token that invalidates in-flight
// work on barge-in.
package generate

import (
	"sync"
	"sync/atomic"
)

// TokenAuthority is the authoritative generation counter for one session.
// Values are monotonically non-decreasing; the cancellation endpoint and the
// orchestrator both go through it, making the server the source of truth for
// "current generation".
type TokenAuthority struct {
	value atomic.Uint64
}

// Current returns the session's current generation.
func (a *TokenAuthority) Current() uint64 {
	return a.value.Load()
}

// Bump atomically increments the generation and returns the new value. Work
// captured under an older value becomes stale immediately.
func (a *TokenAuthority) Bump() uint64 {
	return a.value.Add(1)
}

// IsCurrent reports whether the given generation is still the session's
// current one.
func (a *TokenAuthority) IsCurrent(gen uint64) bool {
	return a.value.Load() == gen
}

// Observe raises the counter to gen when it is behind, never lowering it. A
// follower mirroring the server's authority (the playback side of a remote
// session) adopts the newest generation it has seen this way, while a local
// Bump still invalidates everything below it.
func (a *TokenAuthority) Observe(gen uint64) {
	for {
		cur := a.value.Load()
		if gen <= cur {
			return
		}
		if a.value.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// Registry maps session IDs to their token authorities. Lifecycle is explicit:
// an authority exists from Acquire until Release, tied to the connection
// handling the session rather than living forever in a process-wide map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
}

type registryEntry struct {
	authority *TokenAuthority
	refs      int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registryEntry)}
}

// Acquire returns the session's authority, creating it on first use. Each
// Acquire must be paired with a Release.
func (r *Registry) Acquire(sessionID string) *TokenAuthority {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &registryEntry{authority: &TokenAuthority{}}
		r.sessions[sessionID] = e
	}
	e.refs++
	return e.authority
}

// Release drops one reference to the session's authority, removing the entry
// when the last reference goes away. Releasing an unknown session is a no-op.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.sessions, sessionID)
	}
}

// Lookup returns the session's authority without creating one. The second
// return reports whether the session is live.
func (r *Registry) Lookup(sessionID string) (*TokenAuthority, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.authority, true
}

// Len reports the number of live sessions, for the active-session gauge.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
