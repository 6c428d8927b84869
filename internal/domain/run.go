package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a reconciliation run.
// RUNNING is the only non-terminal state.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// SourceDescriptor identifies the snapshot generation a run reconciles
// against. Hash and size are recorded as supplied; verifying them against the
// downloaded file is the retrieval layer's job, not this core's.
type SourceDescriptor struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Run is one end-to-end reconciliation attempt. Counters are incremented by
// the capture trigger as change records land, so a closed run's totals equal
// exactly the change records it caused.
type Run struct {
	ID             uuid.UUID        `json:"id"`
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	Status         RunStatus        `json:"status"`
	Source         SourceDescriptor `json:"source"`
	RecordsAdded   int              `json:"recordsAdded"`
	RecordsUpdated int              `json:"recordsUpdated"`
	RecordsDeleted int              `json:"recordsDeleted"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
}
