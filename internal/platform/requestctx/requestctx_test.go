package requestctx

import (
	"context"
	"testing"
)

func TestRequestIDFromContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "history-1")
	if got := RequestIDFromContext(ctx); got != "history-1" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "history-1")
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestRequestIDNilContext(t *testing.T) {
	ctx := WithRequestID(nil, "history-2")
	if got := RequestIDFromContext(ctx); got != "history-2" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "history-2")
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}
