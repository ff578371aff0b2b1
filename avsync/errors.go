package avsync

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/avreports/avsync/internal/tracker"
)

// ErrRunInProgress is returned when a sync of the same kind is already open.
var ErrRunInProgress = tracker.ErrRunInProgress

// ErrInvalidInput is returned when arguments or configuration fail validation.
var ErrInvalidInput = errors.New("avsync: invalid input")

// SourceUnavailableError is returned by SyncIndex when the listing page could
// not be fetched or no longer has the expected layout. The run is recorded
// as failed.
type SourceUnavailableError struct {
	URL   string
	RunID string
	Err   error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("avsync: source unavailable: %s: %v", e.URL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }
