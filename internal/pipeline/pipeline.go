// Package pipeline runs a document through a fixed chain of LLM stages and
// assembles their outputs into a markdown report.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/finscan/internal/ai"
	"github.com/kiranshivaraju/finscan/internal/pdf"
	"github.com/kiranshivaraju/finscan/pkg/models"
	"golang.org/x/time/rate"
)

// Extractor turns an artifact path into text.
type Extractor interface {
	Extract(ctx context.Context, path string) (*pdf.Document, error)
}

type Options struct {
	Temperature      float64
	MaxTokens        int
	MaxDocumentChars int
	// RequestsPerMin caps LLM calls across all jobs sharing this Runner. Zero means unlimited.
	RequestsPerMin int
	// Attempts per LLM call when the provider is unavailable. Defaults to 3.
	Attempts     int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Runner implements models.Pipeline.
type Runner struct {
	provider  models.AIProvider
	extractor Extractor
	stages    []*Stage
	limiter   *rate.Limiter
	opts      Options
	logger    *slog.Logger
}

func New(provider models.AIProvider, extractor Extractor, stages []*Stage, opts Options) *Runner {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerMin > 0 {
		burst := len(stages)
		if burst > opts.RequestsPerMin {
			burst = opts.RequestsPerMin
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)/60), burst)
	}

	return &Runner{
		provider:  provider,
		extractor: extractor,
		stages:    stages,
		limiter:   limiter,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Stages returns the names of the configured stages in run order.
func (r *Runner) Stages() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name
	}
	return names
}

func (r *Runner) Run(ctx context.Context, in models.AnalysisInput, out io.Writer) (string, error) {
	fmt.Fprintf(out, "[pipeline] %d stages via %s (%s)\n", len(r.stages), r.provider.Name(), r.provider.Model())

	doc, err := r.extractor.Extract(ctx, in.FilePath)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	fmt.Fprintf(out, "[tools] read %d pages, %d chars\n", doc.Pages, doc.Chars())

	text, cut := pdf.Truncate(doc.Text, r.opts.MaxDocumentChars)
	if cut {
		fmt.Fprintf(out, "[tools] truncated to ~%d chars\n", r.opts.MaxDocumentChars)
	}

	data := promptData{Query: in.Query, Filename: in.Filename, FilePath: in.FilePath}
	outputs := make(map[string]string, len(r.stages))

	for i, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		fmt.Fprintf(out, "\n=== Stage %d/%d: %s (%s) ===\n", i+1, len(r.stages), stage.Title, stage.Role)
		req, err := r.buildRequest(stage, data, text, outputs)
		if err != nil {
			return "", err
		}

		start := time.Now()
		reply, err := r.complete(ctx, out, req)
		if err != nil {
			return "", fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		outputs[stage.Name] = strings.TrimSpace(reply)

		fmt.Fprintln(out, outputs[stage.Name])
		fmt.Fprintf(out, "[%s] finished in %s\n", stage.Name, time.Since(start).Round(time.Millisecond))
	}

	return r.report(in, outputs), nil
}

func (r *Runner) buildRequest(stage *Stage, data promptData, document string, outputs map[string]string) (models.CompletionRequest, error) {
	goal, err := render(stage.goal, data)
	if err != nil {
		return models.CompletionRequest{}, err
	}
	backstory, err := render(stage.backstory, data)
	if err != nil {
		return models.CompletionRequest{}, err
	}
	task, err := render(stage.task, data)
	if err != nil {
		return models.CompletionRequest{}, err
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are a %s.", stage.Role)
	if backstory != "" {
		sys.WriteString(" " + backstory)
	}
	fmt.Fprintf(&sys, "\nYour goal: %s", goal)

	var p strings.Builder
	p.WriteString(task)
	if stage.UsesDocument {
		fmt.Fprintf(&p, "\n\nDocument %q:\n<document>\n%s\n</document>", data.Filename, document)
	}
	if len(stage.Context) > 0 {
		p.WriteString("\n\nContext from previous stages:")
		for _, dep := range stage.Context {
			fmt.Fprintf(&p, "\n\n### %s\n%s", r.title(dep), outputs[dep])
		}
	}
	fmt.Fprintf(&p, "\n\nExpected output:\n%s", strings.TrimSpace(stage.ExpectedOutput))

	return models.CompletionRequest{
		System:      sys.String(),
		Prompt:      p.String(),
		Temperature: r.opts.Temperature,
		MaxTokens:   r.opts.MaxTokens,
	}, nil
}

// complete waits for the rate limiter and retries calls the provider could not serve.
func (r *Runner) complete(ctx context.Context, out io.Writer, req models.CompletionRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}

		reply, err := r.provider.Complete(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !ai.Retryable(err) || attempt == r.opts.Attempts {
			break
		}

		backoff := r.opts.RetryBackoff * time.Duration(attempt)
		fmt.Fprintf(out, "[llm] attempt %d/%d failed: %v; retrying in %s\n", attempt, r.opts.Attempts, err, backoff)
		r.logger.Warn("llm call failed, retrying", "provider", r.provider.Name(), "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (r *Runner) title(name string) string {
	for _, s := range r.stages {
		if s.Name == name {
			return s.Title
		}
	}
	return name
}

func (r *Runner) report(in models.AnalysisInput, outputs map[string]string) string {
	var b strings.Builder
	b.WriteString("# Financial Document Analysis\n\n")
	fmt.Fprintf(&b, "**Document:** %s\n\n", in.Filename)
	fmt.Fprintf(&b, "**Query:** %s\n\n", in.Query)
	fmt.Fprintf(&b, "**Model:** %s/%s\n", r.provider.Name(), r.provider.Model())
	for _, s := range r.stages {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Title, outputs[s.Name])
	}
	return b.String()
}

var _ models.Pipeline = (*Runner)(nil)
