package scheduler

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/services/events"
	"github.com/brandmill/maestro/internal/services/jobs"
	"github.com/brandmill/maestro/internal/storage/badger"
)

func TestProgressReporter_SetProgress(t *testing.T) {
	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	defer manager.Close()

	jobService := jobs.NewService(manager.JobStorage(), logger)
	eventService := events.NewService(logger)
	ctx := context.Background()

	var published []*models.JobEvent
	eventService.Subscribe(interfaces.EventJobLifecycle, func(ctx context.Context, event interfaces.Event) error {
		published = append(published, event.Payload.(*models.JobEvent))
		return nil
	})

	job, _ := jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
	if err := jobService.Transition(ctx, job.ID, models.JobStatusRunning, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	reporter := NewProgressReporter(ctx, job.ID, jobService, eventService, logger)

	reporter.SetProgress(30, "working")
	reporter.SetProgress(-5, "bogus")  // ignored, no event
	reporter.SetProgress(101, "bogus") // ignored, no event
	reporter.Thinking("considering keywords")
	reporter.SetStage("Drafting", 60)

	got, _ := jobService.Get(ctx, job.ID, "")
	if got.Progress != 60 {
		t.Errorf("expected persisted progress 60, got %d", got.Progress)
	}

	wantTypes := []models.JobEventType{
		models.JobEventProgress,
		models.JobEventThinking,
		models.JobEventProgress,
	}
	if len(published) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(published))
	}
	for i, want := range wantTypes {
		if published[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, published[i].Type)
		}
	}
	if published[2].Progress != 60 || published[2].Message != "Stage: Drafting" {
		t.Errorf("stage event malformed: %+v", published[2])
	}
}
