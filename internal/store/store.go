package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobSummary, int, error)
	CountJobs(ctx context.Context, statuses ...string) (int, error)

	// UpdateJobStatus applies one lifecycle transition. Transitions not allowed by
	// models.ValidateTransition fail with an error wrapping models.ErrInvalidTransition.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	// UpdateJobLogs stores an intermediate log snapshot of a running job. It never
	// shortens the stored logs and is a no-op once the job is terminal.
	UpdateJobLogs(ctx context.Context, id uuid.UUID, logs string) error
	// FailJob forces a non-terminal job to failed.
	FailJob(ctx context.Context, id uuid.UUID, msg string) error
}

// JobFilter selects a page of the history listing, newest first.
type JobFilter struct {
	Status string
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizeLimit clamps a requested page size into [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// JobUpdate carries the optional fields written alongside a status transition.
type JobUpdate struct {
	Result       *string
	ErrorMessage *string
	Logs         *string
	DurationMs   *int64
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate collects options into a JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithResult(result string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Result = &result
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithLogs(logs string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Logs = &logs
	}
}

func WithDuration(ms int64) JobUpdateOption {
	return func(u *JobUpdate) {
		u.DurationMs = &ms
	}
}
