package interpret

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the interpretation prompt and model parameters.
type PromptConfig struct {
	Interpretation struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"interpretation"`
}

// PromptData is the material rendered into the user prompt.
type PromptData struct {
	Title        string
	RecordType   string
	FacilityName string
	VisitDate    string
	Notes        string
	DocumentText string
}

const defaultSystem = "You are a careful medical assistant explaining documents to patients in plain language. " +
	"You never diagnose. Structure every reply with exactly these markers: " +
	"'" + MarkerExplanation + "' followed by a plain-language explanation, " +
	"'" + MarkerActions + "' followed by recommended actions, one per line, " +
	"'" + MarkerWarnings + "' followed by findings that need attention, one per line."

const defaultUserTemplate = `Interpret this medical document for the patient.

Document type: {{.RecordType}}
Title: {{.Title}}
{{- if .FacilityName}}
Facility: {{.FacilityName}}{{end}}
{{- if .VisitDate}}
Visit date: {{.VisitDate}}{{end}}
{{- if .Notes}}
Patient notes: {{.Notes}}{{end}}

Document text:
{{.DocumentText}}`

// DefaultPrompts returns the built-in prompt configuration.
func DefaultPrompts() *PromptConfig {
	p := &PromptConfig{}
	p.Interpretation.Temperature = 0.3
	p.Interpretation.MaxTokens = 1000
	p.Interpretation.System = defaultSystem
	p.Interpretation.UserTemplate = defaultUserTemplate
	return p
}

// LoadPrompts loads prompt configuration from a YAML file. Fields left
// empty in the file keep their built-in defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return prompts, nil
}

// BuildUserPrompt renders the user prompt template with the document data.
func (p *PromptConfig) BuildUserPrompt(data PromptData) (string, error) {
	tmpl, err := template.New("prompt").Parse(p.Interpretation.UserTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	return buf.String(), nil
}
