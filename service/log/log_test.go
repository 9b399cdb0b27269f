package log

import (
	"context"
	"testing"
)

func TestLoggerDefault(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("no default logger")
	}
}

func TestWith(t *testing.T) {
	ctx := context.Background()
	ctx2 := With(ctx, "dataset", "tavg")
	if Logger(ctx2) == Logger(ctx) {
		t.Errorf("field not attached to the context logger")
	}
	// Nested fields accumulate on the same context chain
	ctx3 := With(ctx2, "run", "abc")
	if Logger(ctx3) == Logger(ctx2) {
		t.Errorf("nested field not attached")
	}
}
