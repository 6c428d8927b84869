package run

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRunIDRoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := ContextWithRunID(context.Background(), id)

	got, ok := RunIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected run id in context")
	}
	if got != id {
		t.Fatalf("got %s, want %s", got, id)
	}
}

func TestRunIDAbsent(t *testing.T) {
	if _, ok := RunIDFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield a run id")
	}

	ctx := ContextWithRunID(context.Background(), uuid.Nil)
	if _, ok := RunIDFromContext(ctx); ok {
		t.Fatalf("nil run id must read as absent")
	}
}
