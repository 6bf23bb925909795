package store

import (
	"errors"
	"fmt"

	"l10nboard/internal/services"
)

var (
	// ErrFallbackCycle reports an app version fallback chain that loops.
	ErrFallbackCycle = fmt.Errorf("%w: app version fallback cycle", services.ErrConfiguration)
	// ErrSignoffsClosed reports an app version that does not accept sign-offs.
	ErrSignoffsClosed = fmt.Errorf("%w: app version does not accept sign-offs", services.ErrValidation)
)

func notFound(op, what string) error {
	return services.Wrap(services.ErrNotFound, "store", op, what, nil)
}

// IsNotFound reports whether err carries the not-found marker.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
