package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"restyle/internal/adapter/memory"
	"restyle/internal/domain"
	"restyle/internal/generation"
	"restyle/internal/ledger"
	"restyle/internal/progress"
)

// memBlobStore is an in-memory artifact store for executor tests.
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}}
}

func (s *memBlobStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (s *memBlobStore) Write(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return key, nil
}

// scriptedGenerator runs a per-call script. Each entry handles one call in
// order; a nil entry means success.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls []generation.Request
	// script maps call index (0-based) to the error returned.
	script map[int]error
	// onCall runs side effects, keyed by call index.
	onCall map[int]func()
}

func (g *scriptedGenerator) GenerateUnit(_ context.Context, req generation.Request) (generation.Result, error) {
	g.mu.Lock()
	idx := len(g.calls)
	g.calls = append(g.calls, req)
	hook := g.onCall[idx]
	err := g.script[idx]
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return generation.Result{}, err
	}
	return generation.Result{
		Data:   []byte(fmt.Sprintf("img-%s-%d", req.JobID, req.Ordinal)),
		Format: "image/png",
	}, nil
}

type fixture struct {
	jobs   *memory.JobStore
	units  *memory.UnitStore
	usage  *memory.UsageStore
	ledger *ledger.Service
	hub    *progress.Hub
	blobs  *memBlobStore
	gen    *scriptedGenerator
	exec   *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:  memory.NewJobStore(),
		units: memory.NewUnitStore(),
		usage: memory.NewUsageStore(domain.DefaultMonthlyLimit),
		hub:   progress.NewHub(),
		blobs: newMemBlobStore(),
		gen:   &scriptedGenerator{script: map[int]error{}, onCall: map[int]func(){}},
	}
	f.ledger = ledger.NewService(f.usage, zerolog.Nop())
	f.exec = NewExecutor(f.jobs, f.units, f.ledger, f.gen, f.blobs, f.hub, "http://localhost/media", zerolog.Nop())
	return f
}

// submit creates a pending job with its upfront debit, mirroring the gateway.
func (f *fixture) submit(t *testing.T, units int, tierName string) *domain.Job {
	t.Helper()
	ctx := context.Background()
	tier, err := generation.ResolveTier(tierName)
	if err != nil {
		t.Fatalf("resolve tier: %v", err)
	}
	cost := tier.Multiplier * units
	if _, err := f.ledger.Debit(ctx, "user-1", cost); err != nil {
		t.Fatalf("debit: %v", err)
	}
	job := &domain.Job{
		ID:              fmt.Sprintf("job-%d", time.Now().UnixNano()),
		UserID:          "user-1",
		SourceImageKey:  "uploads/user-1/source.png",
		SourceImageName: "source.png",
		Instruction:     "make it watercolor",
		UnitCount:       units,
		Tier:            tier.Name,
		AspectRatio:     domain.AspectRatioOriginal,
		Locale:          "en",
		Status:          domain.JobStatusPending,
		CreditsConsumed: cost,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.blobs.blobs[job.SourceImageKey] = []byte("source-bytes")
	return job
}

// run claims the job, subscribes for events, executes, and drains the stream.
func (f *fixture) run(t *testing.T, jobID string) []domain.ProgressEvent {
	t.Helper()
	ctx := context.Background()
	events, cancel := f.hub.Subscribe(jobID)
	defer cancel()

	claimed, err := f.jobs.Claim(ctx, jobID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var got []domain.ProgressEvent
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func terminalEvents(events []domain.ProgressEvent) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, ev := range events {
		if ev.Type.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

func usedCredits(t *testing.T, f *fixture) int {
	t.Helper()
	summary, err := f.ledger.Summary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	return summary.Used
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 3, "standard")

	events := f.run(t, job.ID)

	final, err := f.jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Produced != 3 || final.Attempted != 3 {
		t.Fatalf("produced/attempted = %d/%d, want 3/3", final.Produced, final.Attempted)
	}
	if final.CreditsConsumed != 3 {
		t.Fatalf("credits = %d, want 3", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 3 {
		t.Fatalf("ledger used = %d, want 3", got)
	}

	units, err := f.units.ListByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	for i, u := range units {
		if !u.Succeeded() {
			t.Fatalf("unit %d did not succeed: %q", i+1, u.FailureReason)
		}
	}

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventCompleted {
		t.Fatalf("terminal events = %+v, want exactly one completed", terms)
	}
	if terms[0].Progress != 100 || len(terms[0].Images) != 3 {
		t.Fatalf("completed event = %+v, want progress 100 and 3 images", terms[0])
	}

	// Progress never moves backwards and stays in 5..99 before the terminal.
	last := -1
	for _, ev := range events {
		if ev.Progress < last {
			t.Fatalf("progress moved backwards: %d after %d", ev.Progress, last)
		}
		if !ev.Type.Terminal() && (ev.Progress < 5 || ev.Progress > 99) {
			t.Fatalf("non-terminal progress %d outside 5..99", ev.Progress)
		}
		last = ev.Progress
	}
}

func TestExecutePartialSuccess(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 3, "standard")
	// Second unit exhausts retries; the loop continues.
	f.gen.script[1] = &generation.TransientError{Err: errors.New("provider flapping")}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Produced != 2 || final.Attempted != 3 {
		t.Fatalf("produced/attempted = %d/%d, want 2/3", final.Produced, final.Attempted)
	}

	units, _ := f.units.ListByJob(context.Background(), job.ID)
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	if units[1].Succeeded() || units[1].FailureReason == "" {
		t.Fatalf("unit 2 = %+v, want recorded failure", units[1])
	}

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventCompleted {
		t.Fatalf("terminal events = %+v, want exactly one completed", terms)
	}
	if len(terms[0].Images) != 2 {
		t.Fatalf("images = %d, want 2", len(terms[0].Images))
	}
}

func TestExecuteTierFallbackRefundsRemainder(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 5, "premium") // debit 10

	// Unit 3 reports the premium tier gone; the retry at standard succeeds.
	f.gen.script[2] = &generation.TierUnavailableError{Tier: "premium", Reason: "model retired"}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Produced != 5 {
		t.Fatalf("produced = %d, want 5", final.Produced)
	}
	// Refund covers the two units after the failing one at the multiplier
	// delta: (2-1) * (5-3) = 2, leaving 8 consumed.
	if final.CreditsConsumed != 8 {
		t.Fatalf("credits = %d, want 8", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 8 {
		t.Fatalf("ledger used = %d, want 8", got)
	}

	var fallbacks []domain.ProgressEvent
	for _, ev := range events {
		if ev.Type == domain.EventFallback {
			fallbacks = append(fallbacks, ev)
		}
	}
	if len(fallbacks) != 1 {
		t.Fatalf("fallback events = %d, want 1", len(fallbacks))
	}
	fb := fallbacks[0]
	if fb.RequestedModel != "gemini-2.5-pro-image" || fb.UsedModel != "gemini-2.5-flash-image" || fb.Refund != 2 {
		t.Fatalf("fallback event = %+v", fb)
	}

	// The fallback is sticky: unit 3's retry and everything after run at
	// standard tier.
	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	for i, call := range f.gen.calls {
		wantTier := generation.TierPremium
		if i >= 3 {
			wantTier = generation.TierStandard
		}
		if call.Tier.Name != wantTier {
			t.Fatalf("call %d tier = %s, want %s", i, call.Tier.Name, wantTier)
		}
	}
}

func TestExecuteCancelBetweenUnits(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 4, "standard")

	// The cancel lands while unit 2 is generating; the worker observes it
	// before starting unit 3.
	f.gen.onCall[1] = func() {
		if err := f.jobs.RequestCancel(context.Background(), job.ID); err != nil {
			t.Errorf("request cancel: %v", err)
		}
	}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.Produced != 2 || final.Attempted != 2 {
		t.Fatalf("produced/attempted = %d/%d, want 2/2", final.Produced, final.Attempted)
	}
	// Two unattempted units refunded at the standard multiplier.
	if final.CreditsConsumed != 2 {
		t.Fatalf("credits = %d, want 2", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 2 {
		t.Fatalf("ledger used = %d, want 2", got)
	}

	units, _ := f.units.ListByJob(context.Background(), job.ID)
	if len(units) != 2 {
		t.Fatalf("units = %d, want 2 (no work after the cancel)", len(units))
	}

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventCancelled {
		t.Fatalf("terminal events = %+v, want exactly one cancelled", terms)
	}
}

func TestExecuteAllUnitsFail(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 2, "standard")
	f.gen.script[0] = &generation.TransientError{Err: errors.New("overloaded")}
	f.gen.script[1] = &generation.TransientError{Err: errors.New("overloaded")}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Produced != 0 || final.Attempted != 2 {
		t.Fatalf("produced/attempted = %d/%d, want 0/2", final.Produced, final.Attempted)
	}
	// Nothing produced, everything refunded.
	if final.CreditsConsumed != 0 {
		t.Fatalf("credits = %d, want 0", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 0 {
		t.Fatalf("ledger used = %d, want 0", got)
	}

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventFailed {
		t.Fatalf("terminal events = %+v, want exactly one failed", terms)
	}
	if terms[0].Error == "" {
		t.Fatal("failed event carries no error message")
	}
}

func TestExecuteUnreadableSourceFailsWithFullRefund(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 3, "standard")
	delete(f.blobs.blobs, job.SourceImageKey)

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.CreditsConsumed != 0 {
		t.Fatalf("credits = %d, want 0", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 0 {
		t.Fatalf("ledger used = %d, want 0", got)
	}
	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventFailed {
		t.Fatalf("terminal events = %+v, want exactly one failed", terms)
	}
}

func TestExecuteRefusesUnclaimedTerminalTransition(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 1, "standard")

	ctx := context.Background()
	claimed, err := f.jobs.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.jobs.Claim(ctx, job.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
	if err := f.exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Terminal states are immutable.
	if err := f.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, "late"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("finish after terminal err = %v, want ErrJobTerminal", err)
	}
}

func TestExecuteFatalErrorAbortsJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 3, "standard")
	f.gen.script[1] = &generation.FatalError{Err: errors.New("content policy violation")}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	// The fatal unit consumed no slot, so the loop stopped after unit 1.
	if final.Produced != 1 || final.Attempted != 1 {
		t.Fatalf("produced/attempted = %d/%d, want 1/1", final.Produced, final.Attempted)
	}
	if len(f.gen.calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(f.gen.calls))
	}
	// Units 2 and 3 are refunded; the user keeps paying for the produced one.
	if final.CreditsConsumed != 1 {
		t.Fatalf("credits = %d, want 1", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 1 {
		t.Fatalf("ledger used = %d, want 1", got)
	}

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventFailed {
		t.Fatalf("terminal events = %+v, want exactly one failed", terms)
	}
	if terms[0].Error == "" {
		t.Fatalf("failed event carries no reason: %+v", terms[0])
	}
}

func TestExecuteFatalErrorOnFirstUnitRefundsEverything(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 2, "premium")
	f.gen.script[0] = &generation.FatalError{Err: errors.New("request rejected")}

	events := f.run(t, job.ID)

	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.CreditsConsumed != 0 {
		t.Fatalf("credits = %d, want 0", final.CreditsConsumed)
	}
	if got := usedCredits(t, f); got != 0 {
		t.Fatalf("ledger used = %d, want 0", got)
	}
	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != domain.EventFailed {
		t.Fatalf("terminal events = %+v, want exactly one failed", terms)
	}
}

func TestProgressPercentBand(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 5, 5},
		{1, 5, 20},
		{4, 5, 80},
		{5, 5, 99},
		{1, 1, 99},
		{0, 1, 5},
	}
	for _, tc := range cases {
		if got := progressPercent(tc.done, tc.total); got != tc.want {
			t.Errorf("progressPercent(%d, %d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}
