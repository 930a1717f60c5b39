package domain

// EventKind enumerates the progress event types delivered to observers.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventFallback  EventKind = "fallback"
)

// Terminal reports whether the kind closes the job's event stream. Exactly
// one terminal event is emitted per job.
func (k EventKind) Terminal() bool {
	switch k {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// ProgressEvent is the versioned wire shape pushed to subscribers. It is
// ephemeral: delivery is at-most-once per connection and holds no history.
type ProgressEvent struct {
	JobID          string        `json:"job_id"`
	Type           EventKind     `json:"type"`
	Progress       int           `json:"progress"`
	Status         JobStatus     `json:"status"`
	Current        int           `json:"current"`
	Total          int           `json:"total"`
	Message        string        `json:"message"`
	Images         []ArtifactRef `json:"images,omitempty"`
	Error          string        `json:"error,omitempty"`
	Fallback       bool          `json:"fallback,omitempty"`
	RequestedModel string        `json:"requested_model,omitempty"`
	UsedModel      string        `json:"used_model,omitempty"`
	Refund         int           `json:"refund,omitempty"`
}
