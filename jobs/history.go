package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"ops-console/storage"
)

// History keeps finished job snapshots, most recent first.
type History[R Report] interface {
	Append(ctx context.Context, s Snapshot[R]) error
	List(ctx context.Context) ([]Snapshot[R], error)
}

// MemoryHistory is a bounded in-process History.
type MemoryHistory[R Report] struct {
	mu      sync.Mutex
	limit   int
	entries []Snapshot[R]
}

// NewMemoryHistory keeps at most limit entries; limit <= 0 means storage.HistoryLimit.
func NewMemoryHistory[R Report](limit int) *MemoryHistory[R] {
	if limit <= 0 {
		limit = storage.HistoryLimit
	}
	return &MemoryHistory[R]{limit: limit}
}

func (h *MemoryHistory[R]) Append(_ context.Context, s Snapshot[R]) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Snapshot[R]{s}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
	return nil
}

func (h *MemoryHistory[R]) List(context.Context) ([]Snapshot[R], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Snapshot[R], len(h.entries))
	copy(out, h.entries)
	return out, nil
}

type historyStore interface {
	AppendHistory(ctx context.Context, key string, entry []byte, limit int) error
	History(ctx context.Context, key string) ([]json.RawMessage, error)
}

// StoredHistory persists snapshots as a single JSON array in the local store,
// so history survives restarts.
type StoredHistory[R Report] struct {
	store historyStore
	key   string
	limit int
}

func NewStoredHistory[R Report](store historyStore, kind string, limit int) *StoredHistory[R] {
	return &StoredHistory[R]{store: store, key: "history:" + kind, limit: limit}
}

func (h *StoredHistory[R]) Append(ctx context.Context, s Snapshot[R]) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return h.store.AppendHistory(ctx, h.key, data, h.limit)
}

func (h *StoredHistory[R]) List(ctx context.Context) ([]Snapshot[R], error) {
	raw, err := h.store.History(ctx, h.key)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot[R], 0, len(raw))
	for _, r := range raw {
		var s Snapshot[R]
		if err := sonic.Unmarshal(r, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
