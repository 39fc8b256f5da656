package jobs

import "errors"

// Submission-time errors. These are returned synchronously and no job is created.
var (
	ErrValidation         = errors.New("invalid job input")
	ErrStorageUnavailable = errors.New("job store unavailable")
	ErrQueueFull          = errors.New("job queue is full")
	ErrDispatcherClosed   = errors.New("dispatcher is shutting down")
)

// ErrNotFound is returned by the query side for an id no submission produced.
var ErrNotFound = errors.New("job not found")

// Execution-time errors. They end up as the error text of a failed job.
var (
	ErrTimeout = errors.New("job timed out")
	ErrAborted = errors.New("job aborted")
)

// ErrAlreadyAttached is returned when a second writer tries to attach to a job's log.
var ErrAlreadyAttached = errors.New("log capture already attached")
