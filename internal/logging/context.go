package logging

import (
	"context"
	"log/slog"

	"l10nboard/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRepository is the standardized key for repository names.
	FieldRepository = "repository"
	// FieldAppVersion is the standardized key for app version codes.
	FieldAppVersion = "app_version"
	// FieldLocale is the standardized key for locale codes.
	FieldLocale = "locale"
	// FieldSignoffID is the standardized key for sign-off identifiers.
	FieldSignoffID = "signoff_id"
	// FieldPushID is the standardized key for externally assigned push ids.
	FieldPushID = "push_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for an operator.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if repo, ok := services.RepositoryFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRepository, repo))
	}
	if av, ok := services.AppVersionFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAppVersion, av))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
