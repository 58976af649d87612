package sweep

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoPlaceholder is returned by LoadTemplate when the template never
// mentions the placeholder.
var ErrNoPlaceholder = errors.New("template does not contain placeholder")

// Template is a simulator config with a placeholder for the trace file name.
type Template struct {
	text        string
	placeholder string
}

// NewTemplate returns a template for text. It fails if placeholder is empty
// or does not occur in text.
func NewTemplate(text, placeholder string) (*Template, error) {
	if placeholder == "" {
		return nil, errors.New("template placeholder is empty")
	}
	if !strings.Contains(text, placeholder) {
		return nil, fmt.Errorf("%w %q", ErrNoPlaceholder, placeholder)
	}
	return &Template{text: text, placeholder: placeholder}, nil
}

// LoadTemplate reads a template file.
func LoadTemplate(path, placeholder string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulator template: %w", err)
	}
	t, err := NewTemplate(string(data), placeholder)
	if err != nil {
		return nil, fmt.Errorf("simulator template %s: %w", path, err)
	}
	return t, nil
}

// Render replaces every occurrence of the placeholder with traceName.
func (t *Template) Render(traceName string) string {
	return strings.ReplaceAll(t.text, t.placeholder, traceName)
}

// WriteFile renders the template for traceName into path. The config is
// written to a temp file and renamed, so path never holds a partial config.
func (t *Template) WriteFile(path, traceName string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.Render(traceName)), 0644); err != nil {
		return fmt.Errorf("writing simulator config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming simulator config: %w", err)
	}
	return nil
}
