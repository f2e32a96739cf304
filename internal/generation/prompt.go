package generation

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/phrazzld/synthgen/internal/domain"
)

//go:embed prompts/samples.tmpl
var promptFS embed.FS

const defaultPromptName = "prompts/samples.tmpl"

// promptData represents the data passed to the prompt template
type promptData struct {
	RecordID         string
	Content          string
	Tags             []string
	SamplesPerRecord int
}

// PromptBuilder renders the generation prompt for a record.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder parses the template at path, or the embedded default
// when path is empty.
func NewPromptBuilder(path string) (*PromptBuilder, error) {
	name := defaultPromptName
	if path != "" {
		name = path
	}

	// The root template must carry the file's base name to receive its content.
	tmpl := template.New(filepath.Base(name)).Funcs(template.FuncMap{"join": strings.Join})

	var err error
	if path == "" {
		tmpl, err = tmpl.ParseFS(promptFS, defaultPromptName)
	} else {
		tmpl, err = tmpl.ParseFiles(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	return &PromptBuilder{tmpl: tmpl}, nil
}

// Build renders the prompt asking for samplesPerRecord samples of record.
func (b *PromptBuilder) Build(record domain.Record, samplesPerRecord int) (string, error) {
	if strings.TrimSpace(record.Content) == "" {
		return "", fmt.Errorf("%w: record %s", domain.ErrEmptyContent, record.ID)
	}

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, promptData{
		RecordID:         record.ID,
		Content:          record.Content,
		Tags:             record.Tags,
		SamplesPerRecord: max(samplesPerRecord, 1),
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
