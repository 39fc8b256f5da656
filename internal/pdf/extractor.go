// Package pdf extracts plain text from PDF artifacts using pdfcpu.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrUnreadable = errors.New("pdf unreadable")
	ErrNoText     = errors.New("pdf has no extractable text")
)

// Document is the text recovered from one PDF.
type Document struct {
	Pages int
	Text  string
}

// Chars returns the document length in characters.
func (d *Document) Chars() int { return utf8.RuneCountInString(d.Text) }

// Extractor reads PDFs from local paths. It is safe for concurrent use.
type Extractor struct {
	tempDir string
	logger  *slog.Logger
}

// NewExtractor creates an Extractor that stages page content under tempDir
// (os.TempDir when empty).
func NewExtractor(tempDir string, logger *slog.Logger) *Extractor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{tempDir: tempDir, logger: logger}
}

var contentFileRe = regexp.MustCompile(`Content_page_(\d+)`)

// Extract returns the text of every page joined by newlines. Blank runs of more
// than one empty line are collapsed.
func (e *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, filepath.Base(path), err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp(e.tempDir, "finscan-pdf-")
	if err != nil {
		return nil, fmt.Errorf("creating extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("%w: extracting content: %v", ErrUnreadable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("reading extraction dir: %w", err)
	}

	pageTexts := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := contentFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		pageNum, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			e.logger.Warn("skipping unreadable page content", "page", pageNum, "error", err)
			continue
		}
		pageTexts[pageNum] = collapseBlankLines(TextFromContent(raw))
	}

	nums := make([]int, 0, len(pageTexts))
	for n := range pageTexts {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	chunks := make([]string, 0, len(nums))
	for _, n := range nums {
		chunks = append(chunks, pageTexts[n])
	}
	text := strings.Join(chunks, "\n")

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoText, filepath.Base(path))
	}

	e.logger.Debug("extracted pdf text", "file", filepath.Base(path), "pages", pageCount, "chars", len(text))
	return &Document{Pages: pageCount, Text: text}, nil
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// Truncate keeps the first and last halves of text when it exceeds maxChars
// characters, joined by a marker naming how much was cut. maxChars <= 0 disables it.
func Truncate(text string, maxChars int) (string, bool) {
	total := utf8.RuneCountInString(text)
	if maxChars <= 0 || total <= maxChars {
		return text, false
	}

	runes := []rune(text)
	half := maxChars / 2
	marker := fmt.Sprintf("\n\n[... truncated %d chars, showing first and last sections of %d total chars ...]\n\n",
		total-2*half, total)
	return string(runes[:half]) + marker + string(runes[total-half:]), true
}
