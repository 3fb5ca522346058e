package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidArgument, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := StatusFor(tt.kind); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.kind, got, tt.want)
			}
			if tt.kind != KindUnknown {
				if back := KindForStatus(tt.want); back != tt.kind {
					t.Errorf("KindForStatus(%d) = %v, want %v", tt.want, back, tt.kind)
				}
			}
		})
	}
}

func TestKindForStatus_OutsideTable(t *testing.T) {
	if got := KindForStatus(http.StatusForbidden); got != KindUnknown {
		t.Errorf("KindForStatus(403) = %v, want unknown", got)
	}
}

func TestRemote_PreservesStatus(t *testing.T) {
	err := Remote("attendance.check-in", "already checked in", http.StatusConflict)
	if err.Kind != KindConflict {
		t.Errorf("Kind = %v, want conflict", err.Kind)
	}
	if err.StatusCode() != http.StatusConflict {
		t.Errorf("StatusCode() = %d", err.StatusCode())
	}

	odd := Remote("attendance.get-all", "teapot", http.StatusTeapot)
	if odd.Kind != KindUnknown || odd.StatusCode() != http.StatusTeapot {
		t.Errorf("got kind %v status %d", odd.Kind, odd.StatusCode())
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := Conflict("no active check-in")
	wrapped := fmt.Errorf("checkout: %w", base)

	if KindOf(wrapped) != KindConflict {
		t.Errorf("KindOf(wrapped) = %v", KindOf(wrapped))
	}
	if !Is(wrapped, KindConflict) {
		t.Error("Is(wrapped, conflict) = false")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("plain error should be unknown")
	}
}

func TestPublic(t *testing.T) {
	status, msg := Public(errors.New("pq: relation does not exist"))
	if status != http.StatusInternalServerError || msg != "Internal server error" {
		t.Errorf("Public(plain) = %d %q", status, msg)
	}

	status, msg = Public(NotFound("User not found"))
	if status != http.StatusNotFound || msg != "User not found" {
		t.Errorf("Public(notfound) = %d %q", status, msg)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindTimeout, Op: "attendance.get-status", Message: "Service timeout after 100ms"}
	want := "attendance.get-status: Service timeout after 100ms"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
