package models

import (
	"context"
	"io"
)

// AnalysisInput references an already-persisted document plus the user's question.
type AnalysisInput struct {
	FilePath string
	Filename string
	Query    string
	// Cleanup marks the artifact as a per-job upload to be removed once the job ends.
	Cleanup bool
}

// Pipeline is the opaque multi-stage analysis procedure a job executes.
// Anything written to out is captured into the job's log stream; implementations must not
// write to process-wide stdout as a substitute.
type Pipeline interface {
	Run(ctx context.Context, in AnalysisInput, out io.Writer) (string, error)
}

// PipelineFunc adapts an ordinary function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, in AnalysisInput, out io.Writer) (string, error)

func (f PipelineFunc) Run(ctx context.Context, in AnalysisInput, out io.Writer) (string, error) {
	return f(ctx, in, out)
}
