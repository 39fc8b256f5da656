package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestPDF builds a minimal uncompressed PDF with one content stream per page.
func writeTestPDF(t *testing.T, pages ...string) string {
	t.Helper()

	n := len(pages)
	fontObj := 3 + 2*n
	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))

	for i, content := range pages {
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			4+2*i, fontObj))
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestExtract_MultiPage(t *testing.T) {
	path := writeTestPDF(t,
		"BT /F1 12 Tf 72 720 Td (Tesla Q2 2025 Update) Tj 0 -14 Td (Total revenues $22.5B) Tj ET",
		"BT /F1 12 Tf 72 720 Td (Free cash flow $146M) Tj ET",
	)

	e := NewExtractor(t.TempDir(), nil)
	doc, err := e.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.Pages)
	assert.Equal(t, "Tesla Q2 2025 Update\nTotal revenues $22.5B\nFree cash flow $146M", doc.Text)
	assert.Equal(t, len(doc.Text), doc.Chars())
}

func TestExtract_NoText(t *testing.T) {
	path := writeTestPDF(t, "q 0 0 m 100 100 l S Q")

	_, err := NewExtractor(t.TempDir(), nil).Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtract_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o600))

	_, err := NewExtractor(t.TempDir(), nil).Extract(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := NewExtractor(t.TempDir(), nil).Extract(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(t.TempDir(), nil).Extract(ctx, "whatever.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_CleansUpStagingDir(t *testing.T) {
	path := writeTestPDF(t, "BT (hello) Tj ET")
	staging := t.TempDir()

	_, err := NewExtractor(staging, nil).Extract(context.Background(), path)
	require.NoError(t, err)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
