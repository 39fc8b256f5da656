package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/finscan/internal/cache"
	"github.com/kiranshivaraju/finscan/internal/store"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// Query is the read side of the job system: status polling and history.
type Query struct {
	store   store.Store
	cache   cache.Cache
	capture *Capture
	ttl     time.Duration
	logger  *slog.Logger
}

// NewQuery creates a Query. Terminal views are cached for ttl; a nil cache disables caching.
func NewQuery(st store.Store, ca cache.Cache, capture *Capture, ttl time.Duration) *Query {
	return &Query{
		store:   st,
		cache:   ca,
		capture: capture,
		ttl:     ttl,
		logger:  slog.Default(),
	}
}

// Status returns the current view of a job. While the job runs in this process its
// logs come from the live capture buffer; once terminal the view is served from the
// store (or its cached copy) and no longer changes.
func (q *Query) Status(ctx context.Context, id uuid.UUID) (*models.JobView, error) {
	if v, ok := q.cachedView(ctx, id); ok {
		return v, nil
	}

	view, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(view.Status) {
		q.cacheView(ctx, view)
		return view, nil
	}
	if q.capture == nil {
		return view, nil
	}

	live, ok := q.capture.Read(id)
	if !ok {
		if view.Status != models.JobStatusRunning {
			return view, nil
		}
		// A running job with no handle here has either just finished (the worker
		// persists before detaching) or runs in another process. The row is
		// re-read so a finished job is never reported with its stale snapshot.
		view, err = q.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if models.IsTerminal(view.Status) {
			q.cacheView(ctx, view)
		}
		return view, nil
	}
	// the stored snapshot is always a prefix of the live buffer
	if len(live) >= len(view.Logs) {
		view.Logs = live
		view.LogCursor = models.CountLines(live)
	}
	return view, nil
}

func (q *Query) load(ctx context.Context, id uuid.UUID) (*models.JobView, error) {
	job, err := q.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return models.NewJobView(job), nil
}

// StatusSince is Status with only the log lines after cursor. LogCursor in the
// returned view is the value to pass on the next poll.
func (q *Query) StatusSince(ctx context.Context, id uuid.UUID, cursor int) (*models.JobView, error) {
	view, err := q.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if cursor < 0 {
		cursor = 0
	}

	if !models.IsTerminal(view.Status) && q.capture != nil {
		if lines, next, ok := q.capture.ReadSince(id, cursor); ok && next >= view.LogCursor {
			view.Logs = strings.Join(lines, "\n")
			view.LogCursor = next
			return view, nil
		}
	}

	view.Logs = linesAfter(view.Logs, cursor)
	return view, nil
}

// History lists job summaries newest first, optionally only those in status.
func (q *Query) History(ctx context.Context, limit, offset int, status string) ([]*models.JobSummary, int, error) {
	if status != "" && !models.IsValidStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if offset < 0 {
		offset = 0
	}
	jobs, total, err := q.store.ListJobs(ctx, store.JobFilter{
		Status: status,
		Limit:  store.NormalizeLimit(limit),
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return jobs, total, nil
}

func (q *Query) cachedView(ctx context.Context, id uuid.UUID) (*models.JobView, bool) {
	if q.cache == nil {
		return nil, false
	}
	data, found, err := q.cache.Get(ctx, cache.JobViewKey(id))
	if err != nil {
		q.logger.Debug("read cached job view", "job_id", id, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var v models.JobView
	if err := json.Unmarshal(data, &v); err != nil || !models.IsTerminal(v.Status) {
		// unusable entry; drop it so the next terminal read replaces it
		if err := q.cache.Delete(ctx, cache.JobViewKey(id)); err != nil {
			q.logger.Debug("evict cached job view", "job_id", id, "error", err)
		}
		return nil, false
	}
	return &v, true
}

func (q *Query) cacheView(ctx context.Context, v *models.JobView) {
	if q.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := q.cache.Set(ctx, cache.JobViewKey(v.JobID), data, q.ttl); err != nil {
		q.logger.Debug("cache job view", "job_id", v.JobID, "error", err)
	}
}

func linesAfter(logs string, cursor int) string {
	if logs == "" || cursor <= 0 {
		return logs
	}
	lines := strings.Split(logs, "\n")
	if cursor >= len(lines) {
		return ""
	}
	return strings.Join(lines[cursor:], "\n")
}
