package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("bed %s: %w", "G-01", ErrNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("severity: %w", ErrValidation), http.StatusBadRequest},
		{"transition", fmt.Errorf("en_route -> in_icu: %w", ErrInvalidTransition), http.StatusConflict},
		{"bed", ErrBedUnavailable, http.StatusConflict},
		{"on duty", ErrAlreadyOnDuty, http.StatusConflict},
		{"conflict", ErrConflict, http.StatusConflict},
		{"ambiguous", ErrAmbiguousShift, http.StatusUnprocessableEntity},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHTTPError_HidesInternalErrors(t *testing.T) {
	he := HTTPError(errors.New("pq: password authentication failed"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
	if he.Internal == nil {
		t.Error("expected internal error to be preserved")
	}
}

func TestHTTPError_KeepsDomainMessage(t *testing.T) {
	he := HTTPError(fmt.Errorf("bed G-01 is occupied: %w", ErrBedUnavailable))
	if he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", he.Code)
	}
	if he.Message != "bed G-01 is occupied: bed unavailable" {
		t.Errorf("unexpected message %v", he.Message)
	}
}
