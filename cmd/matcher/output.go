package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/grant-matcher/internal/observability"
)

// cliIdentity is the rate-limit identity of commands run from the terminal.
const cliIdentity = "cli"

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// readDocuments reads each path as one supporting document excerpt. Empty files are skipped.
func readDocuments(paths []string) ([]string, error) {
	docs := make([]string, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", path, err)
		}
		if text := strings.TrimSpace(string(content)); text != "" {
			docs = append(docs, text)
		}
	}
	return docs, nil
}

// printer returns a verbose-mode printer on stderr, or nil when verbose output is off.
func printer(cmd *cobra.Command) *observability.Printer {
	if !verbose {
		return nil
	}
	return observability.NewPrinter(cmd.ErrOrStderr())
}
