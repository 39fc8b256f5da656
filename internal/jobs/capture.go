package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxLineBytes caps a single captured line. Longer lines are cut at a rune boundary.
const maxLineBytes = 4096

// Capture is the per-process registry of live job log buffers. Each running job gets
// its own Handle, which the pipeline writes to as a plain io.Writer; status readers
// look buffers up by job id.
type Capture struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
	logger  *slog.Logger
}

// NewCapture creates an empty registry. Captured lines are mirrored to logger at debug level.
func NewCapture(logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		handles: make(map[uuid.UUID]*Handle),
		logger:  logger,
	}
}

// Attach opens the log buffer for a job. Only one handle may be attached per job.
func (c *Capture) Attach(id uuid.UUID) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.handles[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, id)
	}
	h := &Handle{
		id:     id,
		owner:  c,
		logger: c.logger.With("job_id", id),
	}
	c.handles[id] = h
	return h, nil
}

// Read returns the full captured log of an attached job.
func (c *Capture) Read(id uuid.UUID) (string, bool) {
	h := c.lookup(id)
	if h == nil {
		return "", false
	}
	return h.Snapshot(), true
}

// ReadSince returns the lines appended after cursor and the cursor to pass next time.
// A cursor beyond the end yields no lines and the current end.
func (c *Capture) ReadSince(id uuid.UUID, cursor int) ([]string, int, bool) {
	h := c.lookup(id)
	if h == nil {
		return nil, 0, false
	}
	lines, next := h.since(cursor)
	return lines, next, true
}

// Attached reports how many jobs currently hold a handle.
func (c *Capture) Attached() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

func (c *Capture) lookup(id uuid.UUID) *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[id]
}

func (c *Capture) remove(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[h.id] == h {
		delete(c.handles, h.id)
	}
}

// Handle is one job's append-only log buffer. Writes are split into lines; an
// unterminated tail is held back until its newline arrives or the handle is
// finalized, so readers never observe half a line.
type Handle struct {
	id     uuid.UUID
	owner  *Capture
	logger *slog.Logger

	mu      sync.Mutex
	lines   []string
	partial []byte
	final   bool
}

// ID returns the job this handle captures.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Write appends p to the buffer. It never fails; output arriving after Finalize is dropped.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.final {
		return len(p), nil
	}

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			h.holdPartial(rest)
			break
		}
		h.holdPartial(rest[:i])
		h.emitPartial()
		rest = rest[i+1:]
	}
	return len(p), nil
}

// Logf appends one formatted line.
func (h *Handle) Logf(format string, args ...any) {
	_, _ = h.Write([]byte(fmt.Sprintf(format, args...) + "\n"))
}

// Snapshot returns the complete lines captured so far.
func (h *Handle) Snapshot() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.lines, "\n")
}

// Len returns the number of complete lines captured so far.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

// Finalize flushes any unterminated tail, freezes the buffer and returns its text.
// Calling it again returns the same text.
func (h *Handle) Finalize() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.final {
		h.emitPartial()
		h.final = true
	}
	return strings.Join(h.lines, "\n")
}

// Detach removes the handle from its registry. Status reads fall back to the store afterwards.
func (h *Handle) Detach() {
	h.owner.remove(h)
}

func (h *Handle) since(cursor int) ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(h.lines) {
		return nil, len(h.lines)
	}
	out := make([]string, len(h.lines)-cursor)
	copy(out, h.lines[cursor:])
	return out, len(h.lines)
}

// holdPartial keeps at most one line's worth of an unterminated write.
func (h *Handle) holdPartial(b []byte) {
	room := maxLineBytes + utf8.UTFMax - len(h.partial)
	if room <= 0 {
		return
	}
	if len(b) > room {
		b = b[:room]
	}
	h.partial = append(h.partial, b...)
}

func (h *Handle) emitPartial() {
	line := strings.TrimRight(string(h.partial), " \t\r\n\v\f")
	h.partial = h.partial[:0]
	if line == "" {
		return
	}
	line = strings.ToValidUTF8(truncateString(line, maxLineBytes), "�")
	h.lines = append(h.lines, line)
	h.logger.Log(context.Background(), slog.LevelDebug, line)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
