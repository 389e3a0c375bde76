package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ExportFormat specifies the output format for schema export
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// Export serializes a schema document
func Export(doc *Document, format ExportFormat) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}

	out := *doc
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.SchemaVersion == "" {
		out.SchemaVersion = SchemaVersion
	}
	out.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	switch format {
	case FormatYAML, "":
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "# StratLab parameter schema for %s\n", out.Strategy)
		fmt.Fprintf(&buf, "# Schema Version: %s\n\n", out.SchemaVersion)

		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(&out); err != nil {
			return nil, fmt.Errorf("failed to encode schema to YAML: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(&out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema to JSON: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ExportToFile writes a schema document, picking the format from the file extension
func ExportToFile(doc *Document, path string) error {
	format := FormatYAML
	if filepath.Ext(path) == ".json" {
		format = FormatJSON
	}

	data, err := Export(doc, format)
	if err != nil {
		return fmt.Errorf("failed to export schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	return nil
}

// Import parses a YAML or JSON schema document, migrates it to the current
// version and validates it
func Import(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}

	var doc Document
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse schema document as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}

	if err := Migrate(&doc); err != nil {
		return nil, fmt.Errorf("failed to migrate schema document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	return &doc, nil
}

// ImportFromFile imports a schema document from a file
func ImportFromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	doc, err := Import(data)
	if err != nil {
		return nil, fmt.Errorf("failed to import schema from %s: %w", path, err)
	}
	return doc, nil
}

// ImportFromReader imports a schema document from an io.Reader
func ImportFromReader(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema data: %w", err)
	}
	return Import(data)
}
