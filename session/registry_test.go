package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"ops-console/domain"
)

type failingSource struct {
	recordingStore
	fetchErr error
	// failFirst fails that many fetches before serving stored layouts.
	failFirst int
	fetches   int
	mu        sync.Mutex
}

func (f *failingSource) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	f.mu.Lock()
	f.fetches++
	failing := f.fetches <= f.failFirst
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if failing {
		return nil, errors.New("connection reset")
	}
	return f.recordingStore.FetchLayout(ctx, userID)
}

func (f *failingSource) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func storedLayout(order ...string) []domain.Item {
	out := make([]domain.Item, len(order))
	for i, id := range order {
		out[i] = domain.Item{ID: id, Key: id, Visible: true, Order: i}
	}
	return out
}

func TestRegistryLoadsOncePerUser(t *testing.T) {
	src := &failingSource{}
	reg := NewRegistry(src, RegistryConfig{Autosave: true, Logger: quietLogger(), Defaults: fiveItems})

	var wg sync.WaitGroup
	sessions := make([]*Session, 10)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions[i] = reg.Get(context.Background(), "u1")
		}()
	}
	wg.Wait()
	for _, s := range sessions {
		if s != sessions[0] {
			t.Fatalf("expected a single session per user")
		}
	}
	if src.fetches != 1 {
		t.Fatalf("expected one load, got %d", src.fetches)
	}
	if reg.Get(context.Background(), "u2") == sessions[0] {
		t.Fatalf("users must not share sessions")
	}
}

func TestRegistryFallsBackToDefaults(t *testing.T) {
	src := &failingSource{fetchErr: errors.New("connection reset")}
	reg := NewRegistry(src, RegistryConfig{Logger: quietLogger(), Defaults: fiveItems})
	s := reg.Get(context.Background(), "u1")
	if want := []string{"a", "b", "c", "d", "e"}; !slices.Equal(ids(s.Items()), want) {
		t.Fatalf("expected defaults, got %v", ids(s.Items()))
	}
	if s.Autosave() {
		t.Fatalf("autosave must follow registry config")
	}
}

func TestRegistryDropReloads(t *testing.T) {
	src := &failingSource{}
	reg := NewRegistry(src, RegistryConfig{Autosave: true, Logger: quietLogger(), Defaults: fiveItems})
	s := reg.Get(context.Background(), "u1")
	if _, err := s.Reorder(context.Background(), 4, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	reg.Drop("u1")
	again := reg.Get(context.Background(), "u1")
	if again == s {
		t.Fatalf("expected a fresh session")
	}
	if again.Items()[0].ID != "e" {
		t.Fatalf("expected stored layout reloaded, got %v", ids(again.Items()))
	}
}

func TestRegistryReloadsAfterTransientFailure(t *testing.T) {
	src := &failingSource{failFirst: 1}
	src.saves = [][]domain.Item{storedLayout("e", "a")}
	reg := NewRegistry(src, RegistryConfig{Autosave: true, Logger: quietLogger(), Defaults: fiveItems})

	first := reg.Get(context.Background(), "u1")
	if want := []string{"a", "b", "c", "d", "e"}; !slices.Equal(ids(first.Items()), want) {
		t.Fatalf("expected defaults while storage is down, got %v", ids(first.Items()))
	}

	again := reg.Get(context.Background(), "u1")
	if got := ids(again.Items()); got[0] != "e" || got[1] != "a" {
		t.Fatalf("expected stored layout once storage recovered, got %v", got)
	}
	if _, err := again.ToggleVisibility(context.Background(), "b"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	saves := src.Saves()
	if last := ids(saves[len(saves)-1]); last[0] != "e" || last[1] != "a" {
		t.Fatalf("stored customization overwritten, now %v", last)
	}

	fetches := src.Fetches()
	if reg.Get(context.Background(), "u1") != again || src.Fetches() != fetches {
		t.Fatalf("a settled session must not be reloaded")
	}
}

func TestRegistryKeepsChangedFallbackSession(t *testing.T) {
	src := &failingSource{failFirst: 1}
	src.saves = [][]domain.Item{storedLayout("e", "a")}
	reg := NewRegistry(src, RegistryConfig{Logger: quietLogger(), Defaults: fiveItems})

	s := reg.Get(context.Background(), "u1")
	if _, err := s.Reorder(context.Background(), 4, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if reg.Get(context.Background(), "u1") != s {
		t.Fatalf("unsaved changes must not be replaced by a reload")
	}
}

func TestRegistryLoadIgnoresCancelledRequest(t *testing.T) {
	src := &failingSource{}
	src.saves = [][]domain.Item{storedLayout("e", "a")}
	reg := NewRegistry(src, RegistryConfig{Logger: quietLogger(), Defaults: fiveItems})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := reg.Get(ctx, "u1")
	if got := ids(s.Items()); got[0] != "e" {
		t.Fatalf("aborted request must not pin the defaults, got %v", got)
	}
}

func TestRegistryEvictsIdleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &failingSource{}
	reg := NewRegistry(src, RegistryConfig{Logger: quietLogger(), Defaults: fiveItems, Clock: clock, IdleTTL: time.Minute})

	idle := reg.Get(context.Background(), "idle")
	dirty := reg.Get(context.Background(), "dirty")
	if _, err := dirty.Reorder(context.Background(), 1, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	clock.Advance(time.Minute)
	reg.Get(context.Background(), "fresh")
	if reg.Len() != 2 {
		t.Fatalf("expected the idle session evicted, %d remain", reg.Len())
	}
	if reg.Get(context.Background(), "dirty") != dirty {
		t.Fatalf("sessions with unsaved changes must be kept")
	}
	if reg.Get(context.Background(), "idle") == idle {
		t.Fatalf("expected a fresh session after eviction")
	}
}
