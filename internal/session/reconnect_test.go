package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hakan2211/memdia-sub000/pkg/provider/stt"
	sttmock "github.com/Hakan2211/memdia-sub000/pkg/provider/stt/mock"
)

// factoryProvider hands out a fresh mock session per StartStream call,
// optionally failing the first few attempts.
type factoryProvider struct {
	mu       sync.Mutex
	sessions []*sttmock.Session
	failures int
	calls    int
}

func (f *factoryProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("dial refused")
	}
	s := sttmock.NewSession()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *factoryProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *factoryProvider) session(i int) *sttmock.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

func TestReconnector_ConnectAndStop(t *testing.T) {
	t.Parallel()
	provider := &factoryProvider{}
	r := NewReconnector(ReconnectorConfig{Provider: provider})

	sess, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if r.Session() != sess {
		t.Error("Session() does not return the connected session")
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !provider.session(0).Closed() {
		t.Error("Stop did not close the session")
	}
	if r.Session() != nil {
		t.Error("Session() non-nil after Stop")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestReconnector_ReconnectsWithBackoff(t *testing.T) {
	t.Parallel()
	reconnected := make(chan stt.SessionHandle, 1)
	provider := &factoryProvider{}
	r := NewReconnector(ReconnectorConfig{
		Provider:    provider,
		Backoff:     time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
		OnReconnect: func(s stt.SessionHandle) { reconnected <- s },
	})
	t.Cleanup(func() { r.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(ctx)

	// Two reconnect attempts fail before the third succeeds.
	provider.mu.Lock()
	provider.failures = provider.calls + 2
	provider.mu.Unlock()

	r.NotifyDisconnect()

	select {
	case sess := <-reconnected:
		if r.Session() != sess {
			t.Error("Session() does not return the reconnected session")
		}
	case <-ctx.Done():
		t.Fatal("reconnect never completed")
	}

	if got := provider.callCount(); got != 4 {
		t.Errorf("StartStream calls = %d, want initial + 3 attempts", got)
	}
	if !provider.session(0).Closed() {
		t.Error("old session was not closed after reconnect")
	}
}

func TestReconnector_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	provider := &factoryProvider{}
	r := NewReconnector(ReconnectorConfig{
		Provider:   provider,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	t.Cleanup(func() { r.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(ctx)

	provider.mu.Lock()
	provider.failures = 1000 // never succeed again
	provider.mu.Unlock()

	r.NotifyDisconnect()

	deadline := time.Now().Add(3 * time.Second)
	for provider.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("retries never ran")
		}
		time.Sleep(time.Millisecond)
	}
	// Give the loop a moment to prove it stopped at the cap.
	time.Sleep(20 * time.Millisecond)
	if got := provider.callCount(); got != 3 {
		t.Errorf("StartStream calls = %d, want initial + 2 capped attempts", got)
	}
}
