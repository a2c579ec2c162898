package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/brandmill/maestro/internal/common"
	"github.com/brandmill/maestro/internal/interfaces"
	"github.com/brandmill/maestro/internal/models"
	"github.com/brandmill/maestro/internal/services/budget"
	"github.com/brandmill/maestro/internal/services/events"
	"github.com/brandmill/maestro/internal/services/jobs"
	"github.com/brandmill/maestro/internal/storage/badger"
)

// fakeGenerator scripts generation outcomes for scheduler tests. When block
// is set the generator waits for context cancellation, simulating a long
// execution that only ends when cancelled. A release channel holds the
// generator mid-flight until the test closes it, then it returns success
// regardless of the context's state.
type fakeGenerator struct {
	mu       sync.Mutex
	failErr  error
	block    bool
	panicMsg string
	started  chan string
	release  chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req *interfaces.GenerationRequest, progress interfaces.ProgressSink) (*interfaces.GenerationResult, error) {
	if g.started != nil {
		g.started <- req.Command
	}

	if g.panicMsg != "" {
		panic(g.panicMsg)
	}

	if g.release != nil {
		<-g.release
	}

	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	g.mu.Lock()
	failErr := g.failErr
	g.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	progress.SetProgress(50, "halfway")
	return &interfaces.GenerationResult{
		Content:          map[string]interface{}{"content": "generated text"},
		ModelUsed:        "claude-sonnet-4-20250514",
		PromptTokens:     100,
		CompletionTokens: 50,
		TokensUsed:       150,
		Cost:             0.001,
	}, nil
}

type testRig struct {
	jobService    interfaces.JobService
	budgetService interfaces.BudgetService
	eventService  interfaces.EventService
	scheduler     *Scheduler
}

func newTestRig(t *testing.T, gen interfaces.ContentGenerator) *testRig {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	jobService := jobs.NewService(manager.JobStorage(), logger)
	budgetService := budget.NewService(manager.BudgetStorage(), &common.BudgetConfig{
		DefaultWarningThresholdPercent: 80,
	}, logger)
	eventService := events.NewService(logger)

	sched := New(jobService, budgetService, gen, eventService, &common.SchedulerConfig{
		Concurrency:  2,
		PollInterval: "10ms",
		WorkerID:     "test-worker",
	}, logger)
	t.Cleanup(sched.Stop)

	return &testRig{
		jobService:    jobService,
		budgetService: budgetService,
		eventService:  eventService,
		scheduler:     sched,
	}
}

func waitForStatus(t *testing.T, svc interfaces.JobService, jobID string, want models.JobStatus) *models.Job {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			job, _ := svc.Get(context.Background(), jobID, "")
			t.Fatalf("timed out waiting for %s, job is %+v", want, job)
			return nil
		case <-time.After(10 * time.Millisecond):
			job, err := svc.Get(context.Background(), jobID, "")
			if err != nil {
				continue
			}
			if job.Status == want {
				return job
			}
			if job.Status.IsTerminal() && job.Status != want {
				t.Fatalf("job reached terminal %s while waiting for %s (error: %s)",
					job.Status, want, job.ErrorMessage)
				return nil
			}
		}
	}
}

func TestScheduler_RunsJobToCompletion(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})
	ctx := context.Background()

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write",
		map[string]interface{}{"topic": "testing"}, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rig.scheduler.Start()

	done := waitForStatus(t, rig.jobService, job.ID, models.JobStatusCompleted)
	if done.Result == nil {
		t.Error("expected result on completed job")
	}
	if done.Progress != 100 {
		t.Errorf("expected progress 100, got %d", done.Progress)
	}
	if done.TokensUsed != 150 {
		t.Errorf("expected 150 tokens recorded, got %d", done.TokensUsed)
	}

	// Usage lands on the ledger.
	summary, err := rig.budgetService.UsageSummaryForPeriod(ctx, "caller-1", "day")
	if err != nil {
		t.Fatalf("usage summary failed: %v", err)
	}
	if summary.TotalCalls != 1 || summary.TotalTokens != 150 {
		t.Errorf("expected one ledger entry with 150 tokens, got %+v", summary)
	}
}

func TestScheduler_FailureExhaustsRetriesThenFails(t *testing.T) {
	gen := &fakeGenerator{failErr: fmt.Errorf("model unavailable")}
	rig := newTestRig(t, gen)
	ctx := context.Background()

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeEmailMarketer, "create", nil, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rig.scheduler.Start()

	failed := waitForStatus(t, rig.jobService, job.ID, models.JobStatusFailed)
	if failed.ErrorMessage != "model unavailable" {
		t.Errorf("expected error message preserved, got %q", failed.ErrorMessage)
	}
	if failed.Result != nil {
		t.Error("failed job must not carry a result")
	}
	if failed.RetryCount != failed.MaxRetries {
		t.Errorf("expected %d retries before failing, got %d", failed.MaxRetries, failed.RetryCount)
	}
}

func TestScheduler_CancelMidRun(t *testing.T) {
	started := make(chan string, 1)
	rig := newTestRig(t, &fakeGenerator{block: true, started: started})
	ctx := context.Background()

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeAnalyst, "analyze", nil, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rig.scheduler.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started executing")
	}

	if !rig.scheduler.Cancel(job.ID) {
		t.Fatal("expected a live execution handle to cancel")
	}

	done := waitForStatus(t, rig.jobService, job.ID, models.JobStatusCancelled)
	if done.Status == models.JobStatusFailed {
		t.Error("cancellation must not be reported as failure")
	}
	if done.Result != nil {
		t.Error("cancelled job must not carry a result")
	}

	// The handle is released once the execution unwinds.
	deadline := time.After(5 * time.Second)
	for rig.scheduler.RunningCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("execution handle never released")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_CancelRacingCompletionStillBroadcastsTerminal(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	rig := newTestRig(t, &fakeGenerator{started: started, release: release})
	ctx := context.Background()

	terminal := make(chan *models.JobEvent, 4)
	if err := rig.eventService.Subscribe(interfaces.EventJobLifecycle, func(ctx context.Context, event interfaces.Event) error {
		if jobEvent, ok := event.Payload.(*models.JobEvent); ok && jobEvent.Type.IsTerminal() {
			terminal <- jobEvent
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rig.scheduler.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started executing")
	}

	// Caller-side cancel lands in the store while the generator is still
	// working; the execution handle is still live.
	cancelled, err := rig.jobService.Cancel(ctx, job.ID, "caller-1")
	if err != nil || !cancelled {
		t.Fatalf("Cancel failed: cancelled=%v err=%v", cancelled, err)
	}
	if !rig.scheduler.Cancel(job.ID) {
		t.Fatal("expected a live execution handle")
	}

	// The generator finishes successfully anyway; its completion loses the
	// race against the persisted cancel, but a terminal event must still be
	// broadcast and match the stored state.
	close(release)

	select {
	case event := <-terminal:
		if event.Type != models.JobEventCancelled {
			t.Fatalf("expected job_cancelled as last event, got %s", event.Type)
		}
		if event.Status != models.JobStatusCancelled {
			t.Errorf("expected cancelled status on event, got %s", event.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event broadcast after racing cancel")
	}

	select {
	case event := <-terminal:
		t.Fatalf("unexpected second terminal event %s", event.Type)
	case <-time.After(200 * time.Millisecond):
	}

	stored, err := rig.jobService.Get(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != models.JobStatusCancelled {
		t.Errorf("expected stored job cancelled, got %s", stored.Status)
	}
}

func TestScheduler_RepeatedPanicsEndDead(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{panicMsg: "corrupted parameters"})
	ctx := context.Background()

	job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeAnalyst, "analyze", nil, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rig.scheduler.Start()

	dead := waitForStatus(t, rig.jobService, job.ID, models.JobStatusDead)
	if dead.RetryCount != dead.MaxRetries {
		t.Errorf("expected %d retries before dead, got %d", dead.MaxRetries, dead.RetryCount)
	}
	if !strings.Contains(dead.ErrorMessage, "execution panic") {
		t.Errorf("expected panic message preserved, got %q", dead.ErrorMessage)
	}
	if dead.Result != nil {
		t.Error("dead job must not carry a result")
	}
}

func TestScheduler_CancelUnknownJob(t *testing.T) {
	rig := newTestRig(t, &fakeGenerator{})

	if rig.scheduler.Cancel("no-such-job") {
		t.Error("expected Cancel to report false for unknown job")
	}
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	started := make(chan string, 8)
	rig := newTestRig(t, &fakeGenerator{block: true, started: started})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := rig.jobService.Create(ctx, "caller-1", models.AgentTypeSEOWriter, "write", nil, 5)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	rig.scheduler.Start()

	// Two slots fill, no third execution starts while they are held.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("execution %d never started", i)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if n := rig.scheduler.RunningCount(); n != 2 {
		t.Errorf("expected 2 running executions at the limit, got %d", n)
	}

	// Releasing a slot lets the next job through.
	if !rig.scheduler.Cancel(ids[0]) && !rig.scheduler.Cancel(ids[1]) {
		t.Fatal("failed to cancel a running execution")
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("third execution never started after slot release")
	}
}
