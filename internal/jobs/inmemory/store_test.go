package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/order-intake/internal/jobs"
)

func TestStore_SaveAndGet(t *testing.T) {
	store := NewStore(0)
	ctx := context.Background()

	run := &jobs.Run{RunID: "r1", Status: jobs.RunStatusRunning, Total: 3}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	run.Status = jobs.RunStatusFailed

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != jobs.RunStatusRunning {
		t.Errorf("Status = %s, want %s", got.Status, jobs.RunStatusRunning)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	store := NewStore(0)
	if err := store.SaveRun(context.Background(), &jobs.Run{}); err == nil {
		t.Error("Expected error for empty run ID")
	}
}

func TestStore_GetUnknown(t *testing.T) {
	store := NewStore(0)
	_, err := store.GetRun(context.Background(), "nope")
	if !errors.Is(err, jobs.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := NewStore(0)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	runs := []*jobs.Run{
		{RunID: "a", Status: jobs.RunStatusCompleted, CreatedAt: base},
		{RunID: "b", Status: jobs.RunStatusCancelled, CreatedAt: base.Add(time.Minute)},
		{RunID: "c", Status: jobs.RunStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.RunFilter
		want   []string
	}{
		{name: "all newest first", filter: jobs.RunFilter{}, want: []string{"c", "b", "a"}},
		{name: "by status", filter: jobs.RunFilter{Status: jobs.RunStatusCompleted}, want: []string{"c", "a"}},
		{name: "limit", filter: jobs.RunFilter{Limit: 1}, want: []string{"c"}},
		{name: "offset", filter: jobs.RunFilter{Offset: 2}, want: []string{"a"}},
		{name: "offset past end", filter: jobs.RunFilter{Offset: 5}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].RunID != id {
					t.Errorf("run %d = %s, want %s", i, got[i].RunID, id)
				}
			}
		})
	}
}

func TestStore_EvictsOldest(t *testing.T) {
	store := NewStore(2)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		_ = store.SaveRun(ctx, &jobs.Run{RunID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	if _, err := store.GetRun(ctx, "a"); err == nil {
		t.Error("Expected oldest run to be evicted")
	}
	if _, err := store.GetRun(ctx, "c"); err != nil {
		t.Errorf("Expected newest run to be kept: %v", err)
	}
}
