package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRecord is one immutable audit fact: a single mutation to a single
// entity, written by the capture trigger in the same transaction as the
// mutation itself. RunID is nil for mutations outside any tracked run, such
// as manual edits. OldAttributes is nil for CREATE, NewAttributes for REMOVE.
type ChangeRecord struct {
	ID            int64          `json:"id"`
	Table         string         `json:"table"`
	EntityID      string         `json:"entityId"`
	Operation     ChangeKind     `json:"operation"`
	ChangedAt     time.Time      `json:"changedAt"`
	RunID         *uuid.UUID     `json:"runId,omitempty"`
	OldAttributes map[string]any `json:"oldAttributes,omitempty"`
	NewAttributes map[string]any `json:"newAttributes,omitempty"`
	Description   string         `json:"description,omitempty"`
}
