package queue

import (
	"errors"
)

var (
	// ErrDuplicateJob is returned when a job id is already known.
	ErrDuplicateJob = errors.New("queue: duplicate job id")
	// ErrQueueFull is returned when a lane cannot accept more jobs.
	ErrQueueFull = errors.New("queue: lane is full")
	// ErrUnknownKind is returned for a kind without a registered lane or handler.
	ErrUnknownKind = errors.New("queue: unknown job kind")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrCancelled ends a job that was cancelled by a caller.
	ErrCancelled = errors.New("job cancelled")
	// ErrJobNotFound is returned by Cancel for unknown ids.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrJobFinished is returned by Cancel for jobs in a terminal state.
	ErrJobFinished = errors.New("queue: job already finished")
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the dispatcher fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var permanent PermanentError
	return errors.As(err, &permanent)
}
