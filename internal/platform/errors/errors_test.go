package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "invalid input", err: E(KindInvalidInput, "bad filter"), want: http.StatusBadRequest},
		{name: "not found", err: E(KindNotFound, "missing"), want: http.StatusNotFound},
		{name: "conflict", err: E(KindConflict, "duplicate"), want: http.StatusConflict},
		{name: "unavailable", err: E(KindUnavailable, "down"), want: http.StatusServiceUnavailable},
		{name: "unknown kind", err: E(KindUnknown, "??"), want: http.StatusInternalServerError},
		{name: "wrapped typed", err: fmt.Errorf("handler: %w", E(KindNotFound, "missing")), want: http.StatusNotFound},
		{name: "plain", err: stderrors.New("boom"), want: http.StatusInternalServerError},
		{name: "grpc invalid", err: status.Error(codes.InvalidArgument, "bad"), want: http.StatusBadRequest},
		{name: "grpc exists", err: status.Error(codes.AlreadyExists, "dup"), want: http.StatusConflict},
		{name: "grpc internal", err: status.Error(codes.Internal, "x"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestErrorMessageFallsBackToKind(t *testing.T) {
	t.Parallel()

	if got := (Error{Kind: KindConflict}).Error(); got != "conflict" {
		t.Fatalf("Error() = %q, want %q", got, "conflict")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("disk full")
	err := Wrap(KindUnavailable, "store unavailable", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if KindOf(err) != KindUnavailable {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), KindUnavailable)
	}
}

func TestLocalizationKey(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrap: %w", EK(KindInvalidInput, " history.error.filter ", "bad filter"))
	if got := LocalizationKey(err); got != "history.error.filter" {
		t.Fatalf("LocalizationKey() = %q", got)
	}
	if got := LocalizationKey(stderrors.New("plain")); got != "" {
		t.Fatalf("LocalizationKey(plain) = %q, want empty", got)
	}
	if KindOf(stderrors.New("plain")) != KindUnknown {
		t.Fatal("expected unknown kind for plain error")
	}
}
