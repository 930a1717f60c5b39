package domain

import "time"

// DefaultMonthlyLimit is the credit allowance granted to an account per period
// unless overridden.
const DefaultMonthlyLimit = 100

// PeriodKey returns the ledger period for the given instant, keyed as
// "YYYY-MM" in UTC so that all replicas agree on the boundary.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// UsageEntry is the per-user, per-period credit counter. Consumed is debited
// optimistically before generation and credited back on verified fallback
// cost reduction or on units that never execute.
type UsageEntry struct {
	UserID    string
	Period    string
	Limit     int
	Consumed  int
	UpdatedAt time.Time
}

// Remaining returns the credits still available in the period.
func (e UsageEntry) Remaining() int {
	if e.Consumed >= e.Limit {
		return 0
	}
	return e.Limit - e.Consumed
}

// UsageSummary is the client-facing view of a ledger entry.
type UsageSummary struct {
	Limit      int     `json:"limit"`
	Used       int     `json:"used"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// Summary derives the client-facing view.
func (e UsageEntry) Summary() UsageSummary {
	pct := 0.0
	if e.Limit > 0 {
		pct = float64(e.Consumed) / float64(e.Limit) * 100
	}
	return UsageSummary{
		Limit:      e.Limit,
		Used:       e.Consumed,
		Remaining:  e.Remaining(),
		Percentage: pct,
	}
}
