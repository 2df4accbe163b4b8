// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrDuplicateDelivery signals that a webhook delivery id was already
// recorded. Callers must treat the whole event as handled and acknowledge the
// sender without reprocessing.
var ErrDuplicateDelivery = errors.New("webhook delivery already processed")

// ErrResetImminent is returned by unfreeze when the user has missed at least
// one full day and unfreezing would expose the streak to an immediate reset.
// The caller must retry with explicit confirmation.
var ErrResetImminent = errors.New("streak reset is imminent, confirmation required")

// ErrInvalidRepoFormat is returned when a repository full name is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}
