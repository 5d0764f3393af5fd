package jobs

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"ops-console/domain"
	"ops-console/storage"
)

func TestMemoryHistoryBounded(t *testing.T) {
	h := NewMemoryHistory[domain.SyncStatus](3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = h.Append(ctx, Snapshot[domain.SyncStatus]{ID: strconv.Itoa(i)})
	}
	list, _ := h.List(ctx)
	if len(list) != 3 || list[0].ID != "4" || list[2].ID != "2" {
		t.Fatalf("unexpected history %+v", list)
	}
}

func TestStoredHistoryRoundTrip(t *testing.T) {
	store, err := storage.OpenLocalStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	h := NewStoredHistory[domain.DeploymentStatus](store, "deployment", 0)
	ended := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	snap := Snapshot[domain.DeploymentStatus]{
		ID:       "dep-1",
		Kind:     "deployment",
		State:    StateCompleted,
		Status:   domain.JobCompleted,
		Progress: 100,
		Report: domain.DeploymentStatus{
			Status:      domain.JobCompleted,
			Progress:    100,
			CurrentStep: "verify",
			NodeTasks:   map[string]domain.NodeTask{"node-a": {Status: domain.JobCompleted, Progress: 100}},
		},
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   &ended,
	}
	if err := h.Append(ctx, snap); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Append(ctx, Snapshot[domain.DeploymentStatus]{ID: "dep-2", State: StateFailed}); err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := h.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "dep-2" || list[1].ID != "dep-1" {
		t.Fatalf("unexpected order %+v", list)
	}
	got := list[1]
	if got.Report.CurrentStep != "verify" || got.Report.NodeTasks["node-a"].Progress != 100 {
		t.Fatalf("report not restored: %+v", got.Report)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("end time not restored: %v", got.EndedAt)
	}
}
