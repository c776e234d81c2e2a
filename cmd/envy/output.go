package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/charlesnicholson/envy/pkg/engine"
)

// renderSummary encodes summary (buffering first, the teacher's
// pkg/serializer.RespondJSON pattern adapted from an HTTP response
// body to a file/stdout write) and writes it to output, or stdout when
// output is "-".
func renderSummary(summary *engine.Summary, output, format string) error {
	buf := &bytes.Buffer{}
	switch format {
	case "json":
		enc := json.NewEncoder(buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode summary as json: %w", err)
		}
	case "yaml", "":
		if err := yaml.NewEncoder(buf).Encode(summary); err != nil {
			return fmt.Errorf("encode summary as yaml: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %q", format)
	}

	if output == "" || output == "-" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	return os.WriteFile(output, buf.Bytes(), 0o644)
}
