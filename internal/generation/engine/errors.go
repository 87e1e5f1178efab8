package engine

import (
	"errors"
	"fmt"
)

// ErrCanceled ends a run whose context was done between attempts.
var ErrCanceled = errors.New("generation canceled")

// RetriesExhaustedError is returned when every attempt failed and the handler did not degrade.
type RetriesExhaustedError struct {
	Key      string
	Attempts int
	Last     AttemptRecord
	// AbortBatch asks batch callers to stop scheduling further keys.
	AbortBatch bool
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts (last %s: %s)", e.Key, e.Attempts, e.Last.Outcome, e.Last.Detail)
}

// IsAbortBatch reports whether err asks the batch to stop.
func IsAbortBatch(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re) && re.AbortBatch
}
