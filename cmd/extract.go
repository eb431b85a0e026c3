package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/engine"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/ingest"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/observability"
)

// extractOutput is the JSON envelope written for each processed document.
type extractOutput struct {
	Document string `json:"document"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newExtractCmd() *cobra.Command {
	var (
		outputPath string
		compact    bool
	)

	cmd := &cobra.Command{
		Use:   "extract [files...]",
		Short: "Extract a knowledge graph from threat reports",
		Long: `Extract entities and relations from threat-intelligence text.

Each argument is a text or HTML file; with no arguments the report is read
from stdin. Results are written as JSON, one envelope per document.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			cfg := config.Get()

			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}

			components, err := buildComponents(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			results := components.Engine.Run(cmd.Context(), docs)

			outputs := make([]extractOutput, len(results))
			failed := 0
			for i, r := range results {
				outputs[i] = extractOutput{Document: r.Document.Name}
				if r.Err != nil {
					outputs[i].Error = r.Err.Error()
					failed++
					continue
				}
				outputs[i].Result = r.Result
			}

			if err := writeJSON(outputPath, outputs, !compact); err != nil {
				return err
			}

			logger.Info("Extraction run finished",
				zap.Int("documents", len(results)),
				zap.Int("failed", failed))
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write results to a file instead of stdout")
	cmd.Flags().BoolVar(&compact, "compact", false, "emit compact JSON instead of indented")
	return cmd
}

// loadDocuments reads all input files, or stdin when none are given. HTML
// inputs are flattened to plain text.
func loadDocuments(paths []string) ([]engine.Document, error) {
	if len(paths) == 0 {
		text, err := ingest.Text(os.Stdin, "stdin")
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return []engine.Document{{ID: "doc-1", Name: "stdin", Text: text}}, nil
	}

	docs := make([]engine.Document, 0, len(paths))
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		text, err := ingest.Text(f, path)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, engine.Document{
			ID:   fmt.Sprintf("doc-%d", i+1),
			Name: filepath.Base(path),
			Text: text,
		})
	}
	return docs, nil
}

// writeJSON marshals v to the given path, or stdout when path is empty.
func writeJSON(path string, v any, indent bool) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}
