package engine

import "errors"

var (
	// ErrDuplicateID is returned when two inserts race on the same request id.
	// The caller retries with a fresh id.
	ErrDuplicateID = errors.New("duplicate request id")

	// ErrEpochClosed is returned for submissions that arrive after the epoch
	// left Collecting. The caller resubmits into the next epoch.
	ErrEpochClosed = errors.New("epoch closed")

	// ErrNotFound is returned for status writes against unknown requests.
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyTerminal is returned when a status write would move a request
	// out of a terminal state.
	ErrAlreadyTerminal = errors.New("request already terminal")

	// ErrInvalidRequest covers submission-time validation failures.
	ErrInvalidRequest = errors.New("invalid swap request")
)
