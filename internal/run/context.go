package run

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const runIDKey contextKey = "runID"

// ContextWithRunID returns a new context that carries the active run id.
func ContextWithRunID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext retrieves the active run id from the context, if any.
func RunIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	value := ctx.Value(runIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
