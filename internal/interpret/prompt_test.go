package interpret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompts_MentionAllMarkers(t *testing.T) {
	p := DefaultPrompts()

	for _, marker := range []string{MarkerExplanation, MarkerActions, MarkerWarnings} {
		assert.Contains(t, p.Interpretation.System, marker)
	}
	assert.Positive(t, p.Interpretation.MaxTokens)
}

func TestBuildUserPrompt(t *testing.T) {
	p := DefaultPrompts()

	got, err := p.BuildUserPrompt(PromptData{
		Title:        "CBC panel",
		RecordType:   "lab_result",
		FacilityName: "City Lab",
		VisitDate:    "2026-03-14",
		DocumentText: "HGB 11.2 g/dL",
	})
	require.NoError(t, err)

	assert.Contains(t, got, "CBC panel")
	assert.Contains(t, got, "lab_result")
	assert.Contains(t, got, "City Lab")
	assert.Contains(t, got, "HGB 11.2 g/dL")
	assert.NotContains(t, got, "Patient notes:", "empty optional fields are omitted")
}

func TestLoadPrompts_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "interpretation:\n  system: \"custom system prompt\"\n  temperature: 0.7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := LoadPrompts(path)
	require.NoError(t, err)

	assert.Equal(t, "custom system prompt", p.Interpretation.System)
	assert.InDelta(t, 0.7, float64(p.Interpretation.Temperature), 0.001)
	assert.Equal(t, defaultUserTemplate, p.Interpretation.UserTemplate, "unset fields keep defaults")
}

func TestLoadPrompts_MissingFile(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
