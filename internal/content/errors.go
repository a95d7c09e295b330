package content

import (
	"errors"
	"fmt"

	"scoutsite-backend/internal/github"
)

var (
	// ErrValidation marks input rejected before any remote call.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a post, file or collection that does not exist.
	ErrNotFound = github.ErrNotFound

	// ErrConflict marks a commit that lost the race for the branch on every attempt.
	ErrConflict = github.ErrConflict
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
