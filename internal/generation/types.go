package generation

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one variant-generation attempt. The worker calls the
// generator once per unit, strictly sequentially within a job.
type Request struct {
	JobID       string
	Ordinal     int
	UnitCount   int
	SourceImage []byte
	SourceMIME  string
	Instruction string
	Tier        Tier
	AspectRatio string
}

// Result is one generated variant. Format is the MIME type reported by the
// provider, image/png when it did not say.
type Result struct {
	Data        []byte
	Format      string
	Description string
}

// Generator is the opaque external generation capability.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// TierUnavailableError signals that the requested capability tier cannot
// serve the request. The worker recovers by substituting the fallback tier;
// it is never surfaced to the client as a failure.
type TierUnavailableError struct {
	Tier   string
	Reason string
}

func (e *TierUnavailableError) Error() string {
	return fmt.Sprintf("tier %q unavailable: %s", e.Tier, e.Reason)
}

// TransientError signals a retryable provider failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient provider error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError signals a job-level failure that no retry can fix, such as an
// unreadable source image.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal generation error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTierUnavailable reports whether err is a tier-unavailable condition.
func IsTierUnavailable(err error) bool {
	var t *TierUnavailableError
	return errors.As(err, &t)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err aborts the whole job.
func IsFatal(err error) bool {
	var t *FatalError
	return errors.As(err, &t)
}
