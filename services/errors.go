package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across services. The bot dispatcher and the HTTP
// handlers match these with errors.Is to pick a reply or a status code.
var (
	// Gating errors
	ErrWrongPhase = errors.New("operation not allowed in the current phase")
	ErrAdminOnly  = errors.New("operation restricted to admins")
	ErrGroupOnly  = errors.New("operation only available in group chats")

	// Submission errors
	ErrAlreadySubmitted = errors.New("user has already submitted this animation")
	ErrSubmissionLimit  = errors.New("user has reached the submission limit")

	// Seeding errors
	ErrNotSeeded          = errors.New("bracket has not been seeded")
	ErrUnknownAnimation   = errors.New("animation has never been submitted")
	ErrDuplicateAnimation = errors.New("animation appears more than once in the seeding")

	// Progression errors
	ErrNoCurrentMatch    = errors.New("no match is currently open")
	ErrNotEnoughVotes    = errors.New("poll has not reached the minimum number of votes")
	ErrAdvanceSuperseded = errors.New("tournament state changed while the advance was in flight")
	ErrManualAttention   = errors.New("progression requires manual attention")

	// Export errors
	ErrBracketUnavailable = errors.New("bracket image is not available")

	// Startup and authentication errors
	ErrIntegrity          = errors.New("persisted state failed validation")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// PollStillOpenError reports that an advance was requested before the
// current match's minimum duration elapsed.
type PollStillOpenError struct {
	Remaining time.Duration
}

func (e *PollStillOpenError) Error() string {
	return fmt.Sprintf("poll can be closed in %s", e.Remaining)
}

// IntegrityError describes a single startup validation failure. It wraps
// ErrIntegrity so callers can match the whole class at once.
type IntegrityError struct {
	Key    string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %q: %s", e.Key, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
