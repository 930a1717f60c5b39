package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"restyle/internal/adapter/memory"
	"restyle/internal/domain"
	"restyle/internal/progress"
)

func seedJob(t *testing.T, store *memory.JobStore, id string, status domain.JobStatus, attempted, total int) {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		UserID:    "user-1",
		UnitCount: total,
		Attempted: attempted,
		Produced:  attempted,
		Status:    domain.JobStatusPending,
		Tier:      "standard",
	}
	ctx := context.Background()
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	if status == domain.JobStatusPending {
		return
	}
	if _, err := store.Claim(ctx, id); err != nil {
		t.Fatalf("claim %s: %v", id, err)
	}
	if err := store.UpdateCounts(ctx, id, attempted, attempted); err != nil {
		t.Fatalf("counts %s: %v", id, err)
	}
	if status.Terminal() {
		if err := store.Finish(ctx, id, status, ""); err != nil {
			t.Fatalf("finish %s: %v", id, err)
		}
	}
}

func TestStatusAggregatesMixedStates(t *testing.T) {
	store := memory.NewJobStore()
	coord := NewCoordinator(store, progress.NewHub(), zerolog.Nop())

	seedJob(t, store, "a", domain.JobStatusCompleted, 4, 4)  // 100
	seedJob(t, store, "b", domain.JobStatusProcessing, 1, 4) // 25
	seedJob(t, store, "c", domain.JobStatusPending, 0, 4)    // 0
	seedJob(t, store, "d", domain.JobStatusCancelled, 2, 4)  // 100

	agg, err := coord.Status(context.Background(), "user-1", []string{"a", "b", "c", "d", "ghost"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if agg.Total != 5 || agg.Missing != 1 {
		t.Fatalf("total/missing = %d/%d, want 5/1", agg.Total, agg.Missing)
	}
	if agg.Completed != 1 || agg.Processing != 1 || agg.Pending != 1 || agg.Cancelled != 1 {
		t.Fatalf("counts = %+v", agg)
	}
	// Mean over visible jobs: (100 + 25 + 0 + 100) / 4 = 56.
	if agg.OverallProgress != 56 {
		t.Fatalf("overall = %d, want 56", agg.OverallProgress)
	}
	if agg.AllTerminal {
		t.Fatal("AllTerminal true with live jobs")
	}
}

func TestStatusHidesForeignJobs(t *testing.T) {
	store := memory.NewJobStore()
	coord := NewCoordinator(store, progress.NewHub(), zerolog.Nop())

	seedJob(t, store, "mine", domain.JobStatusCompleted, 2, 2)
	other := &domain.Job{ID: "theirs", UserID: "user-2", UnitCount: 2, Status: domain.JobStatusPending}
	if err := store.Create(context.Background(), other); err != nil {
		t.Fatalf("create: %v", err)
	}

	agg, err := coord.Status(context.Background(), "user-1", []string{"mine", "theirs"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if agg.Missing != 1 || len(agg.Jobs) != 1 {
		t.Fatalf("missing/jobs = %d/%d, want 1/1", agg.Missing, len(agg.Jobs))
	}
	if !agg.AllTerminal {
		t.Fatal("single completed visible job should be all-terminal")
	}
}

func TestCancelAllToleratesTerminalJobs(t *testing.T) {
	store := memory.NewJobStore()
	coord := NewCoordinator(store, progress.NewHub(), zerolog.Nop())

	seedJob(t, store, "live", domain.JobStatusPending, 0, 2)
	seedJob(t, store, "done", domain.JobStatusCompleted, 2, 2)
	seedJob(t, store, "gone", domain.JobStatusCancelled, 0, 2)

	cancel := func(ctx context.Context, userID, jobID string) (domain.CancelOutcome, error) {
		job, err := store.GetByID(ctx, jobID)
		if err != nil || job.UserID != userID {
			return "", fmt.Errorf("not found")
		}
		switch job.Status {
		case domain.JobStatusCancelled:
			return domain.CancelOutcomeAlreadyCancelled, nil
		case domain.JobStatusCompleted, domain.JobStatusFailed:
			return domain.CancelOutcomeAlreadyFinished, nil
		}
		if ok, err := store.CancelPending(ctx, jobID); err == nil && ok {
			return domain.CancelOutcomeCancelled, nil
		}
		if err := store.RequestCancel(ctx, jobID); err != nil {
			return "", err
		}
		return domain.CancelOutcomeCancelled, nil
	}

	outcomes := coord.CancelAll(context.Background(), "user-1", []string{"live", "done", "gone", "ghost"}, cancel)

	if outcomes["live"] != domain.CancelOutcomeCancelled {
		t.Fatalf("live = %s, want cancelled", outcomes["live"])
	}
	if outcomes["done"] != domain.CancelOutcomeAlreadyFinished {
		t.Fatalf("done = %s, want already_finished", outcomes["done"])
	}
	if outcomes["gone"] != domain.CancelOutcomeAlreadyCancelled {
		t.Fatalf("gone = %s, want already_cancelled", outcomes["gone"])
	}
	if _, ok := outcomes["ghost"]; ok {
		t.Fatal("ghost job should be skipped, not reported")
	}

	job, err := store.GetByID(context.Background(), "live")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("live status = %s, want cancelled", job.Status)
	}
}

func TestWatchEmitsUntilAllTerminal(t *testing.T) {
	store := memory.NewJobStore()
	hub := progress.NewHub()
	coord := NewCoordinator(store, hub, zerolog.Nop())

	seedJob(t, store, "a", domain.JobStatusProcessing, 0, 2)
	seedJob(t, store, "b", domain.JobStatusCompleted, 2, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates := coord.Watch(ctx, "user-1", []string{"a", "b"})

	first := <-updates
	if first.AllTerminal {
		t.Fatal("first snapshot already terminal")
	}
	if first.OverallProgress != 50 {
		t.Fatalf("overall = %d, want 50", first.OverallProgress)
	}

	// Finish the live job, then nudge the watcher with its terminal event.
	if err := store.UpdateCounts(ctx, "a", 2, 2); err != nil {
		t.Fatalf("counts: %v", err)
	}
	if err := store.Finish(ctx, "a", domain.JobStatusCompleted, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	hub.Publish(domain.ProgressEvent{JobID: "a", Type: domain.EventCompleted, Status: domain.JobStatusCompleted})

	var last Status
	for agg := range updates {
		last = agg
	}
	if !last.AllTerminal {
		t.Fatalf("final snapshot = %+v, want all terminal", last)
	}
	if last.OverallProgress != 100 {
		t.Fatalf("final overall = %d, want 100", last.OverallProgress)
	}
}
