package ledger

import (
	"context"
	"errors"

	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
)

// ToAppError maps ledger failures onto the API error taxonomy. Typed errors
// pass through unchanged.
func ToAppError(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	case errors.Is(err, ErrConflict):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message)
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
	}
}
