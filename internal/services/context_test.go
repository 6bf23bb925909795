package services_test

import (
	"context"
	"testing"

	"l10nboard/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRepository(ctx, "l10n-central/de")
	ctx = services.WithAppVersion(ctx, "fx2")
	ctx = services.WithRequestID(ctx, "req-123")

	if repo, ok := services.RepositoryFromContext(ctx); !ok || repo != "l10n-central/de" {
		t.Fatalf("unexpected repository: %v %v", repo, ok)
	}
	if av, ok := services.AppVersionFromContext(ctx); !ok || av != "fx2" {
		t.Fatalf("unexpected app version: %v %v", av, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRepository(ctx, "")
	ctx = services.WithAppVersion(ctx, "")
	if _, ok := services.RepositoryFromContext(ctx); ok {
		t.Fatal("expected no repository value")
	}
	if _, ok := services.AppVersionFromContext(ctx); ok {
		t.Fatal("expected no app version value")
	}
}
