package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"l10nboard/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrVCS, "ingest", "pull", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrVCS) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"ingest", "pull", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.Wrap(services.ErrValidation, "signoff", "add", "bad locale", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "signoff", "review", "missing", nil), http.StatusNotFound},
		{services.Wrap(services.ErrConflict, "signoff", "review", "raced", nil), http.StatusConflict},
		{services.Wrap(services.ErrInvalidState, "signoff", "review", "not pending", nil), http.StatusConflict},
		{services.Wrap(services.ErrVCS, "ingest", "resolve", "unknown revision", nil), http.StatusBadGateway},
		{services.Wrap(services.ErrConfiguration, "flags", "resolve", "cycle", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := services.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrTransient, "", "", "x", nil)) {
		t.Fatal("transient should be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrValidation, "", "", "x", nil)) {
		t.Fatal("validation should not be retryable")
	}
}
