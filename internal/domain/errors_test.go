package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", E(KindValidation, "empty audio"), KindValidation},
		{"wrapped classified", fmt.Errorf("handler: %w", E(KindEncoding, "mux failed")), KindEncoding},
		{"wrap with cause", WrapE(KindInference, errors.New("exit status 1"), "model failed"), KindInference},
		{"job not found sentinel", fmt.Errorf("lookup: %w", ErrJobNotFound), KindNotFound},
		{"busy sentinel", ErrBusy, KindBusy},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessageOfHidesCause(t *testing.T) {
	err := WrapE(KindInference, errors.New("CUDA error at line 42"), "model inference failed")
	if got := MessageOf(err); got != "model inference failed" {
		t.Fatalf("MessageOf() = %q, leaked the underlying cause", got)
	}
	// The full chain stays available for logs.
	if err.Error() != "model inference failed: CUDA error at line 42" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindResource, http.StatusServiceUnavailable},
		{KindBusy, http.StatusServiceUnavailable},
		{KindInference, http.StatusInternalServerError},
		{KindEncoding, http.StatusInternalServerError},
		{KindNotFound, http.StatusNotFound},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		if got := tc.kind.HTTPStatus(); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapE(KindResource, cause, "failed to allocate workspace")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
}
