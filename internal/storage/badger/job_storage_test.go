package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	storage := newTestManager(t).JobStorage()
	ctx := context.Background()

	job := models.NewJob("caller-1", models.AgentTypeSEOWriter, "write",
		map[string]interface{}{"topic": "storage"}, 5)
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.CallerID != "caller-1" || got.Command != "write" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Parameters["topic"] != "storage" {
		t.Errorf("parameters lost in round trip: %+v", got.Parameters)
	}

	if _, err := storage.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStorage_PendingJobsOrdering(t *testing.T) {
	storage := newTestManager(t).JobStorage()
	ctx := context.Background()

	base := time.Now().UTC()
	mk := func(priority float64, offset time.Duration) *models.Job {
		job := models.NewJob("caller-1", models.AgentTypeSEOWriter, "write", nil, priority)
		job.CreatedAt = base.Add(offset)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
		return job
	}

	older := mk(5, 0)
	newer := mk(5, time.Second)
	high := mk(9, 2*time.Second)
	done := mk(8, 3*time.Second)
	done.Status = models.JobStatusCompleted
	if err := storage.SaveJob(ctx, done); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	pending, err := storage.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}

	want := []string{high.ID, older.ID, newer.ID}
	if len(pending) != len(want) {
		t.Fatalf("expected %d pending jobs, got %d", len(want), len(pending))
	}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, pending[i].ID)
		}
	}
}

func TestJobStorage_ListFiltersAndPagination(t *testing.T) {
	storage := newTestManager(t).JobStorage()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := models.NewJob("caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}
	other := models.NewJob("caller-2", models.AgentTypeAnalyst, "analyze", nil, 5)
	if err := storage.SaveJob(ctx, other); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	opts := &interfaces.JobListOptions{Limit: 2}
	list, err := storage.ListJobs(ctx, "caller-1", opts)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	// Newest first.
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Errorf("expected newest-first ordering, got %v then %v", list[0].CreatedAt, list[1].CreatedAt)
	}

	count, err := storage.CountJobs(ctx, "caller-1", opts)
	if err != nil {
		t.Fatalf("CountJobs failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected count 5 regardless of pagination, got %d", count)
	}

	byStatus, err := storage.ListJobs(ctx, "caller-2", &interfaces.JobListOptions{Status: models.JobStatusPending})
	if err != nil {
		t.Fatalf("filtered ListJobs failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != other.ID {
		t.Errorf("status filter returned wrong jobs: %+v", byStatus)
	}
}

func TestJobStorage_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	job := models.NewJob("caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
	if err := manager.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob after reopen failed: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("job lost across reopen")
	}
}
