package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedGenerator struct {
	calls   int
	results []error
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	idx := g.calls
	g.calls++
	if idx < len(g.results) && g.results[idx] != nil {
		return Result{}, g.results[idx]
	}
	return Result{Data: []byte("ok"), Format: "image/png"}, nil
}

func newTestAdapter(gen Generator) *Adapter {
	return NewAdapter(gen, zerolog.Nop(),
		WithMaxAttempts(3),
		WithInitialBackoff(time.Millisecond),
		WithAttemptTimeout(time.Second),
	)
}

func TestGenerateUnitRetriesTransient(t *testing.T) {
	gen := &scriptedGenerator{results: []error{
		&TransientError{Err: errors.New("overloaded")},
		&TransientError{Err: errors.New("overloaded")},
		nil,
	}}
	a := newTestAdapter(gen)

	res, err := a.GenerateUnit(context.Background(), Request{JobID: "j1", Ordinal: 1})
	if err != nil {
		t.Fatalf("GenerateUnit: %v", err)
	}
	if string(res.Data) != "ok" {
		t.Errorf("unexpected result data %q", res.Data)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestGenerateUnitExhaustsAttempts(t *testing.T) {
	gen := &scriptedGenerator{results: []error{
		&TransientError{Err: errors.New("overloaded")},
		&TransientError{Err: errors.New("overloaded")},
		&TransientError{Err: errors.New("overloaded")},
		&TransientError{Err: errors.New("overloaded")},
	}}
	a := newTestAdapter(gen)

	_, err := a.GenerateUnit(context.Background(), Request{JobID: "j1", Ordinal: 1})
	if !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestGenerateUnitNoRetryOnTierUnavailable(t *testing.T) {
	gen := &scriptedGenerator{results: []error{
		&TierUnavailableError{Tier: TierPremium, Reason: "model offline"},
	}}
	a := newTestAdapter(gen)

	_, err := a.GenerateUnit(context.Background(), Request{JobID: "j1", Ordinal: 1})
	if !IsTierUnavailable(err) {
		t.Fatalf("err = %v, want tier unavailable", err)
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestGenerateUnitNoRetryOnFatal(t *testing.T) {
	gen := &scriptedGenerator{results: []error{
		&FatalError{Err: errors.New("source image rejected")},
	}}
	a := newTestAdapter(gen)

	_, err := a.GenerateUnit(context.Background(), Request{JobID: "j1", Ordinal: 1})
	if !IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestGenerateUnitStopsOnCancelledContext(t *testing.T) {
	gen := &scriptedGenerator{results: []error{
		&TransientError{Err: errors.New("overloaded")},
		&TransientError{Err: errors.New("overloaded")},
	}}
	a := newTestAdapter(gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.GenerateUnit(ctx, Request{JobID: "j1", Ordinal: 1})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if gen.calls > 1 {
		t.Errorf("calls = %d, want at most 1", gen.calls)
	}
}
