package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/finscan/internal/store"
	"github.com/kiranshivaraju/finscan/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	seq      map[uuid.UUID]int
	next     int
	history  map[uuid.UUID][]string
	failed   map[uuid.UUID]string
	logFlush int

	createJobErr error
	getJobErr    error
	listErr      error
	claimErr     error

	// afterGet runs after GetJob has copied the row, outside the lock.
	afterGet func(id uuid.UUID)
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		seq:     make(map[uuid.UUID]int),
		history: make(map[uuid.UUID][]string),
		failed:  make(map[uuid.UUID]string),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	if s.createJobErr != nil {
		return s.createJobErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	s.next++
	s.seq[job.ID] = s.next
	s.history[job.ID] = []string{job.Status}
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if s.getJobErr != nil {
		return nil, s.getJobErr
	}
	s.mu.Lock()
	j, ok := s.jobs[id]
	var cp models.Job
	if ok {
		cp = *j
	}
	hook := s.afterGet
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &cp, nil
}

func (s *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.JobSummary, int, error) {
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Job
	for _, j := range s.jobs {
		if filter.Status == "" || j.Status == filter.Status {
			all = append(all, j)
		}
	}
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return s.seq[all[a].ID] > s.seq[all[b].ID]
	})

	total := len(all)
	limit := store.NormalizeLimit(filter.Limit)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := []*models.JobSummary{}
	for _, j := range all[start:end] {
		out = append(out, &models.JobSummary{
			ID: j.ID, Status: j.Status, Filename: j.Filename, Query: j.Query,
			ErrorMessage: j.ErrorMessage, DurationMs: j.DurationMs,
			CreatedAt: j.CreatedAt, CompletedAt: j.CompletedAt,
		})
	}
	return out, total, nil
}

func (s *mockStore) CountJobs(_ context.Context, statuses ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if len(statuses) == 0 {
			n++
			continue
		}
		for _, st := range statuses {
			if j.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if status == models.JobStatusRunning && s.claimErr != nil {
		return s.claimErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := models.ValidateTransition(j.Status, status); err != nil {
		return err
	}

	applied := store.NewJobUpdate(opts...)
	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if models.IsTerminal(status) {
		j.CompletedAt = &now
	}
	if applied.Result != nil {
		j.Result = applied.Result
	}
	if applied.ErrorMessage != nil {
		j.ErrorMessage = applied.ErrorMessage
	}
	if applied.Logs != nil && len(*applied.Logs) >= len(j.Logs) {
		j.Logs = *applied.Logs
	}
	if applied.DurationMs != nil {
		j.DurationMs = applied.DurationMs
	}
	s.history[id] = append(s.history[id], status)
	return nil
}

func (s *mockStore) UpdateJobLogs(_ context.Context, id uuid.UUID, logs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusRunning || len(logs) < len(j.Logs) {
		return nil
	}
	j.Logs = logs
	s.logFlush++
	return nil
}

func (s *mockStore) FailJob(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if models.IsTerminal(j.Status) {
		return fmt.Errorf("%w: %s -> failed", models.ErrInvalidTransition, j.Status)
	}
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &msg
	s.failed[id] = msg
	s.history[id] = append(s.history[id], models.JobStatusFailed)
	return nil
}

func (s *mockStore) job(id uuid.UUID) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (s *mockStore) statusOf(id uuid.UUID) string {
	if j := s.job(id); j != nil {
		return j.Status
	}
	return ""
}

func (s *mockStore) transitions(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[id]...)
}

func (s *mockStore) countStatus(status string) int {
	n, _ := s.CountJobs(context.Background(), status)
	return n
}

func (s *mockStore) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

// --- helpers ---

// tempPDF writes a throwaway input artifact and returns its path.
func tempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload_"+uuid.NewString()[:8]+".pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o600))
	return path
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForStatus(t *testing.T, s *mockStore, id uuid.UUID, status string) {
	t.Helper()
	waitFor(t, "job "+id.String()+" to reach "+status, func() bool {
		return s.statusOf(id) == status
	})
}
