// Package rules loads the business rule document, asks the judge model for
// edits and applies them as literal text replacements.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Block is one named rule section.
type Block struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

type blockFile struct {
	Rules []Block `yaml:"rules"`
}

// Load reads the rule document. YAML files ({rules: [{name, text}]}) are
// rendered as ordered "## name" sections; anything else is used verbatim.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read rules: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var f blockFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return "", fmt.Errorf("decode rules yaml: %w", err)
		}
		if len(f.Rules) == 0 {
			return "", fmt.Errorf("rules yaml %s has no rules", path)
		}
		return Render(f.Rules), nil
	default:
		return string(data), nil
	}
}

// Render collapses blocks into a single document.
func Render(blocks []Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(strings.TrimSpace(b.Name))
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(b.Text))
	}
	sb.WriteString("\n")
	return sb.String()
}

// WriteFile persists a document, creating parent directories.
func WriteFile(path, doc string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure rules dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}
