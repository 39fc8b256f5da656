package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStages(t *testing.T) {
	stages, err := DefaultStages()
	require.NoError(t, err)
	require.Len(t, stages, 4)

	assert.Equal(t, "verifier", stages[0].Name)
	assert.True(t, stages[0].UsesDocument)
	assert.Empty(t, stages[0].Context)

	assert.Equal(t, "financial_analyst", stages[1].Name)
	assert.True(t, stages[1].UsesDocument)
	assert.Equal(t, []string{"verifier"}, stages[1].Context)

	assert.False(t, stages[2].UsesDocument)
	assert.Equal(t, []string{"financial_analyst"}, stages[2].Context)
	assert.Equal(t, []string{"financial_analyst"}, stages[3].Context)

	for _, s := range stages {
		assert.NotEmpty(t, s.Title)
		assert.NotEmpty(t, s.ExpectedOutput)
	}
}

func TestDefaultStages_RenderQuery(t *testing.T) {
	stages, err := DefaultStages()
	require.NoError(t, err)

	goal, err := render(stages[1].goal, promptData{Query: "How did margins move?"})
	require.NoError(t, err)
	assert.Equal(t, "Analyze the financial document to answer: How did margins move?", goal)
}

func TestParseStages_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "stages: [::"},
		{"no stages", "stages: []"},
		{"missing role", `
stages:
  - name: a
    title: A
    goal: g
    task: t
    expected_output: e
`},
		{"duplicate name", `
stages:
  - {name: a, title: A, role: r, goal: g, task: t, expected_output: e}
  - {name: a, title: B, role: r, goal: g, task: t, expected_output: e}
`},
		{"context from later stage", `
stages:
  - {name: a, title: A, role: r, goal: g, task: t, expected_output: e, context: [b]}
  - {name: b, title: B, role: r, goal: g, task: t, expected_output: e}
`},
		{"empty context entry", `
stages:
  - {name: a, title: A, role: r, goal: g, task: t, expected_output: e, context: [""]}
`},
		{"bad template syntax", `
stages:
  - {name: a, title: A, role: r, goal: g, task: "{{.Query", expected_output: e}
`},
		{"unknown template field", `
stages:
  - {name: a, title: A, role: r, goal: g, task: "{{.Ticker}}", expected_output: e}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStages([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidStages)
		})
	}
}

func TestLoadStages_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stages:
  - name: summarizer
    title: Summary
    role: Analyst
    goal: Summarize for {{.Query}}
    task: Summarize {{.Filename}}
    expected_output: three bullets
    uses_document: true
`), 0o600))

	stages, err := LoadStages(path)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "summarizer", stages[0].Name)
}

func TestLoadStages_EmptyPathUsesBuiltIn(t *testing.T) {
	stages, err := LoadStages("")
	require.NoError(t, err)
	assert.Len(t, stages, 4)
}

func TestLoadStages_MissingFile(t *testing.T) {
	_, err := LoadStages(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
