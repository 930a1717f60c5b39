package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Limits on a single submission.
const (
	MinUnitCount = 1
	MaxUnitCount = 5
)

// AspectRatioOriginal keeps the source image proportions.
const AspectRatioOriginal = "original"

var supportedAspectRatios = map[string]bool{
	AspectRatioOriginal: true,
	"1:1":               true,
	"3:4":               true,
	"4:3":               true,
	"9:16":              true,
	"16:9":              true,
	"3:2":               true,
	"2:3":               true,
	"21:9":              true,
	"9:21":              true,
	"4:5":               true,
}

// ValidAspectRatio reports whether the hint is one of the supported ratios.
func ValidAspectRatio(ratio string) bool {
	return supportedAspectRatios[ratio]
}

// Job encapsulates one user submission: a source image, an instruction and a
// requested number of generated variants.
type Job struct {
	ID              string
	UserID          string
	SourceImageKey  string
	SourceImageName string
	SourceImageSize int64
	Instruction     string
	UnitCount       int
	Tier            string
	AspectRatio     string
	Locale          string
	Status          JobStatus
	CancelRequested bool
	ErrorMessage    string
	Produced        int
	Attempted       int
	CreditsConsumed int
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Deleted         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GenerationUnit is one produced (or failed) variant within a job. Units are
// append-only: created one at a time by the owning worker and never mutated.
type GenerationUnit struct {
	ID            string
	JobID         string
	Ordinal       int
	ArtifactKey   string
	ArtifactSize  int64
	FailureReason string
	CreatedAt     time.Time
}

// Succeeded reports whether the unit produced an artifact.
func (u GenerationUnit) Succeeded() bool {
	return u.ArtifactKey != "" && u.FailureReason == ""
}

// ArtifactRef is one downloadable result exposed in a status snapshot.
type ArtifactRef struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// JobSnapshot is the authoritative pull-path view of a job. Events are a
// convenience; a client that missed them recovers the true state from here.
type JobSnapshot struct {
	JobID           string        `json:"job_id"`
	Status          JobStatus     `json:"status"`
	GenerationCount int           `json:"generation_count"`
	CurrentCount    int           `json:"current_count"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Images          []ArtifactRef `json:"images,omitempty"`
}

// CancelOutcome is the result of a cancellation request.
type CancelOutcome string

const (
	CancelOutcomeCancelled        CancelOutcome = "cancelled"
	CancelOutcomeAlreadyFinished  CancelOutcome = "already_finished"
	CancelOutcomeAlreadyCancelled CancelOutcome = "already_cancelled"
)
