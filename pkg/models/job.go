package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// ErrInvalidTransition signals an internal consistency fault: something tried to move
// a job along an edge the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job status transition")

// validTransitions is the whole lifecycle: pending -> running -> done | failed.
var validTransitions = map[string][]string{
	JobStatusPending: {JobStatusRunning},
	JobStatusRunning: {JobStatusDone, JobStatusFailed},
}

// ValidateTransition returns nil if a job may move from one status to the other.
func ValidateTransition(from, to string) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status string) bool {
	return status == JobStatusDone || status == JobStatusFailed
}

// IsValidStatus reports whether status is one of the four lifecycle states.
func IsValidStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// Job is one asynchronous invocation of the analysis pipeline. The API returns its id
// on POST /analyze; the client polls GET /status/{job_id} until status is done or failed.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Status       string     `db:"status"        json:"status"`
	InputPath    string     `db:"input_path"    json:"-"`
	Filename     string     `db:"filename"      json:"filename"`
	Query        string     `db:"query"         json:"query"`
	Cleanup      bool       `db:"cleanup"       json:"-"`
	Result       *string    `db:"result"        json:"result,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error,omitempty"`
	Logs         string     `db:"logs"          json:"logs"`
	DurationMs   *int64     `db:"duration_ms"   json:"duration_ms,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// JobSummary is the history listing row: no input path, logs, or result body.
type JobSummary struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Status       string     `db:"status"        json:"status"`
	Filename     string     `db:"filename"      json:"filename"`
	Query        string     `db:"query"         json:"query"`
	ErrorMessage *string    `db:"error_message" json:"error,omitempty"`
	DurationMs   *int64     `db:"duration_ms"   json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
}

// JobView is what a status poll returns. Logs reflect the live capture buffer while
// the job runs and the persisted copy afterwards.
type JobView struct {
	JobID       uuid.UUID  `json:"job_id"`
	Status      string     `json:"status"`
	Filename    string     `json:"filename"`
	Query       string     `json:"query"`
	Logs        string     `json:"logs"`
	LogCursor   int        `json:"log_cursor"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJobView projects a stored job onto the polling response.
func NewJobView(j *Job) *JobView {
	return &JobView{
		JobID:       j.ID,
		Status:      j.Status,
		Filename:    j.Filename,
		Query:       j.Query,
		Logs:        j.Logs,
		LogCursor:   CountLines(j.Logs),
		Result:      j.Result,
		Error:       j.ErrorMessage,
		DurationMs:  j.DurationMs,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// CountLines returns the number of newline-separated lines in a log blob.
func CountLines(logs string) int {
	if logs == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(logs); i++ {
		if logs[i] == '\n' {
			n++
		}
	}
	return n
}
