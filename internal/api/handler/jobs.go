package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/finscan/internal/api/response"
	"github.com/kiranshivaraju/finscan/internal/jobs"
	"github.com/kiranshivaraju/finscan/internal/store"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// Submitter defines the write side the analyze handlers depend on.
type Submitter interface {
	Submit(ctx context.Context, in models.AnalysisInput) (*models.Job, error)
}

// JobReader defines the read side the status and history handlers depend on.
type JobReader interface {
	Status(ctx context.Context, id uuid.UUID) (*models.JobView, error)
	StatusSince(ctx context.Context, id uuid.UUID, cursor int) (*models.JobView, error)
	History(ctx context.Context, limit, offset int, status string) ([]*models.JobSummary, int, error)
}

// UploadConfig controls where uploads land and what a blank query becomes.
type UploadConfig struct {
	Dir          string
	MaxBytes     int64
	DefaultQuery string
	SamplePath   string
}

type submitResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /analyze.
func NewAnalyzeHandler(svc Submitter, cfg UploadConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", cfg.MaxBytes), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart/form-data body", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Only PDF files are supported", nil)
			return
		}

		path, err := saveUpload(cfg.Dir, file)
		if err != nil {
			slog.Error("save upload", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not store the uploaded file", nil)
			return
		}

		job, err := svc.Submit(r.Context(), models.AnalysisInput{
			FilePath: path,
			Filename: filepath.Base(header.Filename),
			Query:    queryOrDefault(r.FormValue("query"), cfg.DefaultQuery),
			Cleanup:  true,
		})
		if err != nil {
			// no job owns the file, so nothing else will remove it
			_ = os.Remove(path)
			writeSubmitError(w, err)
			return
		}

		writeSubmitted(w, job)
	}
}

// NewAnalyzeSampleHandler returns an http.HandlerFunc for POST /analyze/sample.
// The bundled sample is shared, so the job never deletes it.
func NewAnalyzeSampleHandler(svc Submitter, cfg UploadConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(cfg.SamplePath); err != nil {
			response.Error(w, http.StatusNotFound, "SAMPLE_NOT_FOUND",
				"The sample document is not available on this server", nil)
			return
		}

		var query string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(multipartMemory); err == nil {
				defer r.MultipartForm.RemoveAll()
				query = r.FormValue("query")
			}
		} else {
			query = r.FormValue("query")
		}

		job, err := svc.Submit(r.Context(), models.AnalysisInput{
			FilePath: cfg.SamplePath,
			Filename: filepath.Base(cfg.SamplePath),
			Query:    queryOrDefault(query, cfg.DefaultQuery),
		})
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		writeSubmitted(w, job)
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{jobID}.
func NewStatusHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id must be a UUID", nil)
			return
		}

		var view *models.JobView
		if raw := r.URL.Query().Get("since"); raw != "" {
			cursor, convErr := strconv.Atoi(raw)
			if convErr != nil || cursor < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"since must be a non-negative integer", nil)
				return
			}
			view, err = svc.StatusSince(r.Context(), id, cursor)
		} else {
			view, err = svc.Status(r.Context(), id)
		}
		if err != nil {
			writeQueryError(w, err)
			return
		}

		response.JSON(w, view)
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /history. An optional
// status parameter narrows the listing to one lifecycle state.
func NewHistoryHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
			return
		}
		offset, err := intParam(r, "offset")
		if err != nil || offset < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer", nil)
			return
		}

		summaries, total, err := svc.History(r.Context(), limit, offset, r.URL.Query().Get("status"))
		if err != nil {
			writeQueryError(w, err)
			return
		}
		if summaries == nil {
			summaries = []*models.JobSummary{}
		}

		response.Collection(w, summaries, response.NewPaginationMeta(store.NormalizeLimit(limit), offset, total))
	}
}

func writeSubmitted(w http.ResponseWriter, job *models.Job) {
	response.Accepted(w, submitResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("poll /status/%s for results", job.ID),
	})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
			"Too many jobs are waiting; try again shortly", nil)
	case errors.Is(err, jobs.ErrDispatcherClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
			"The server is shutting down", nil)
	case errors.Is(err, jobs.ErrStorageUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"The job store is not available", nil)
	default:
		slog.Error("submit job", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, jobs.ErrStorageUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"The job store is not available", nil)
	default:
		slog.Error("query jobs", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func saveUpload(dir string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(dir, "upload_"+uuid.NewString()[:8]+".pdf")

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing upload file: %w", err)
	}
	return path, nil
}

func queryOrDefault(q, def string) string {
	if q = strings.TrimSpace(q); q != "" {
		return q
	}
	return def
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
