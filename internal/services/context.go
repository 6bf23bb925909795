package services

import "context"

type contextKey string

const (
	repositoryKey contextKey = "repository"
	appVersionKey contextKey = "app_version"
	requestIDKey  contextKey = "request_id"
)

// WithRepository annotates context with the repository being processed.
func WithRepository(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, repositoryKey, name)
}

// RepositoryFromContext returns the repository name if present.
func RepositoryFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(repositoryKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAppVersion annotates context with an app version code.
func WithAppVersion(ctx context.Context, code string) context.Context {
	if code == "" {
		return ctx
	}
	return context.WithValue(ctx, appVersionKey, code)
}

// AppVersionFromContext returns the app version code if present.
func AppVersionFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(appVersionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
