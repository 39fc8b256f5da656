package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/finscan/internal/store"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// MaxQueryLength bounds the free-text question attached to a job, in characters.
const MaxQueryLength = 4000

// MaxFilenameLength matches the width of the jobs.filename column.
const MaxFilenameLength = 255

const (
	persistTimeout = 10 * time.Second
	createAttempts = 3
)

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of jobs that may run at once.
	Workers int
	// QueueSize is how many submitted jobs may wait for a worker.
	QueueSize int
	// Timeout bounds one pipeline run.
	Timeout time.Duration
	// FlushInterval is how often a running job's logs are copied to the store. Zero disables it.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Dispatcher accepts analysis jobs and runs them on a bounded pool of workers.
// Submit only writes the pending record and enqueues the id; workers claim jobs,
// run the pipeline with a per-job log handle attached and persist the outcome.
type Dispatcher struct {
	store    store.Store
	pipeline models.Pipeline
	capture  *Capture
	opts     Options
	logger   *slog.Logger

	queue   chan uuid.UUID
	pending atomic.Int64
	running atomic.Int64

	mu      sync.Mutex
	closed  bool
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup

	baseCtx context.Context
	abort   context.CancelFunc
}

// NewDispatcher creates a Dispatcher. Call Start to launch its workers.
func NewDispatcher(st store.Store, p models.Pipeline, capture *Capture, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if capture == nil {
		capture = NewCapture(opts.Logger)
	}

	base, abort := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    st,
		pipeline: p,
		capture:  capture,
		opts:     opts,
		logger:   opts.Logger,
		queue:    make(chan uuid.UUID, opts.QueueSize),
		quit:     make(chan struct{}),
		baseCtx:  base,
		abort:    abort,
	}
}

// Start launches the worker pool. Cancelling ctx aborts every running job.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	context.AfterFunc(ctx, d.abort)

	for i := 1; i <= d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Submit validates the input, records a pending job and schedules it. It returns as soon
// as the record is written; it never waits for the pipeline.
func (d *Dispatcher) Submit(ctx context.Context, in models.AnalysisInput) (*models.Job, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDispatcherClosed
	}

	if !d.reserve() {
		return nil, ErrQueueFull
	}

	filename := displayName(in)

	var job *models.Job
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		now := time.Now().UTC()
		job = &models.Job{
			ID:        uuid.New(),
			Status:    models.JobStatusPending,
			InputPath: in.FilePath,
			Filename:  filename,
			Query:     in.Query,
			Cleanup:   in.Cleanup,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = d.store.CreateJob(ctx, job)
		if !errors.Is(err, store.ErrDuplicateKey) {
			break
		}
	}
	if err != nil {
		d.pending.Add(-1)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// Never blocks: a reserved slot guarantees room in the channel.
	d.queue <- job.ID

	d.logger.Info("job submitted", "job_id", job.ID, "filename", job.Filename)
	return job, nil
}

// Shutdown stops accepting jobs and waits for running ones. If ctx expires first the
// running jobs are aborted and end failed. Jobs still queued stay pending.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.quit)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.abort()
		return nil
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, aborting running jobs", "running", d.Running())
		d.abort()
		<-finished
		return ctx.Err()
	}
}

// Running returns the number of jobs currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Pending returns the number of jobs waiting for a worker in this process.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Attached returns the number of jobs whose output is captured in this process.
// It can briefly exceed Running while a finished job persists its outcome.
func (d *Dispatcher) Attached() int {
	return d.capture.Attached()
}

func (d *Dispatcher) reserve() bool {
	for {
		n := d.pending.Load()
		if n >= int64(d.opts.QueueSize) {
			return false
		}
		if d.pending.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		default:
		}

		select {
		case <-d.quit:
			return
		case <-d.baseCtx.Done():
			return
		case id := <-d.queue:
			d.pending.Add(-1)
			d.execute(id, n)
		}
	}
}

// execute drives one job from pending to a terminal state.
func (d *Dispatcher) execute(id uuid.UUID, worker int) {
	ctx := d.baseCtx
	logger := d.logger.With("job_id", id, "worker", worker)

	job, err := d.store.GetJob(ctx, id)
	if err != nil {
		logger.Error("load job", "error", err)
		return
	}

	if err := d.store.UpdateJobStatus(ctx, id, models.JobStatusRunning); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			d.fault(id, err, logger)
			return
		}
		logger.Error("claim job", "error", err)
		return
	}
	d.running.Add(1)
	defer d.running.Add(-1)

	h, err := d.capture.Attach(id)
	if err != nil {
		d.fault(id, err, logger)
		return
	}
	defer h.Detach()

	if job.Cleanup {
		defer removeUpload(job.InputPath, logger)
	}

	logger.Info("job started", "filename", job.Filename)
	h.Logf("Job %s started: %s", id, job.Filename)

	start := time.Now()
	result, runErr := d.run(ctx, job, h)
	duration := time.Since(start).Milliseconds()

	status := models.JobStatusDone
	opts := []store.JobUpdateOption{store.WithDuration(duration)}
	if runErr != nil {
		status = models.JobStatusFailed
		h.Logf("Job failed: %v", runErr)
		opts = append(opts, store.WithErrorMessage(runErr.Error()))
	} else {
		h.Logf("Job completed in %dms", duration)
		opts = append(opts, store.WithResult(result))
	}
	opts = append(opts, store.WithLogs(h.Finalize()))

	// Persist even when the dispatcher is being aborted.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := d.store.UpdateJobStatus(persistCtx, id, status, opts...); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			d.fault(id, err, logger)
		} else {
			logger.Error("persist terminal state", "status", status, "error", err)
		}
		return
	}

	if runErr != nil {
		logger.Warn("job failed", "duration_ms", duration, "error", runErr)
	} else {
		logger.Info("job done", "duration_ms", duration)
	}
}

type outcome struct {
	result string
	err    error
}

// run executes the pipeline under the job timeout and periodically flushes the live
// log buffer. On timeout or abort the pipeline goroutine is abandoned; its handle is
// finalized by the caller, so anything it writes later is dropped.
func (d *Dispatcher) run(ctx context.Context, job *models.Job, h *Handle) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in pipeline", "error", r, "job_id", job.ID)
				done <- outcome{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		result, err := d.pipeline.Run(runCtx, models.AnalysisInput{
			FilePath: job.InputPath,
			Filename: job.Filename,
			Query:    job.Query,
			Cleanup:  job.Cleanup,
		}, h)
		done <- outcome{result: result, err: err}
	}()

	var tick <-chan time.Time
	if d.opts.FlushInterval > 0 {
		ticker := time.NewTicker(d.opts.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	flushed := 0

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-runCtx.Done():
			select {
			case o := <-done:
				return o.result, o.err
			default:
			}
			if ctx.Err() != nil {
				return "", ErrAborted
			}
			return "", fmt.Errorf("%w after %s", ErrTimeout, d.opts.Timeout)
		case <-tick:
			if n := h.Len(); n > flushed {
				if err := d.store.UpdateJobLogs(ctx, job.ID, h.Snapshot()); err != nil {
					d.logger.Warn("flush job logs", "job_id", job.ID, "error", err)
					continue
				}
				flushed = n
			}
		}
	}
}

// fault handles an internal consistency fault: it is logged and the job forced to failed.
func (d *Dispatcher) fault(id uuid.UUID, cause error, logger *slog.Logger) {
	logger.Error("internal consistency fault", "error", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.baseCtx), persistTimeout)
	defer cancel()
	msg := fmt.Sprintf("internal consistency fault: %v", cause)
	if err := d.store.FailJob(ctx, id, msg); err != nil {
		logger.Error("force job to failed", "error", err)
	}
}

func removeUpload(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove uploaded file", "path", path, "error", err)
	}
}

func validateInput(in models.AnalysisInput) error {
	if in.FilePath == "" {
		return fmt.Errorf("%w: input path is required", ErrValidation)
	}
	fi, err := os.Stat(in.FilePath)
	if err != nil {
		return fmt.Errorf("%w: input file %q is not readable", ErrValidation, filepath.Base(in.FilePath))
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: input %q is not a regular file", ErrValidation, filepath.Base(in.FilePath))
	}

	// Postgres text rejects NUL bytes and invalid UTF-8.
	name := displayName(in)
	if !storableText(name) {
		return fmt.Errorf("%w: filename must be valid UTF-8 without NUL bytes", ErrValidation)
	}
	if utf8.RuneCountInString(name) > MaxFilenameLength {
		return fmt.Errorf("%w: filename exceeds %d characters", ErrValidation, MaxFilenameLength)
	}
	if !storableText(in.Query) {
		return fmt.Errorf("%w: query must be valid UTF-8 without NUL bytes", ErrValidation)
	}
	if utf8.RuneCountInString(in.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrValidation, MaxQueryLength)
	}
	return nil
}

// displayName is the filename recorded for a job.
func displayName(in models.AnalysisInput) string {
	if in.Filename != "" {
		return in.Filename
	}
	return filepath.Base(in.FilePath)
}

func storableText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}
