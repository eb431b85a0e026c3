package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/feedback"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/observability"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Manage extraction corrections and the confidence threshold",
		Long: `Record reviewer corrections and inspect the feedback state.

Corrections bias entity typing in later extractions and drive the automatic
confidence-threshold adjustment. Set feedback.history_file in the config so
state survives between runs.`,
	}

	cmd.AddCommand(newFeedbackSubmitCmd())
	cmd.AddCommand(newFeedbackStatsCmd())
	cmd.AddCommand(newFeedbackThresholdCmd())
	return cmd
}

// openFeedbackStore loads the configured history file, or a fresh in-memory
// store when none is configured.
func openFeedbackStore(cfg *config.Config) (*feedback.MemoryStore, error) {
	logger := observability.GetLogger()
	if cfg.Feedback.HistoryFile == "" {
		logger.Warn("feedback.history_file is not configured, feedback will not persist")
		return feedback.NewMemoryStore(cfg.Extractor.ConfidenceThreshold, logger), nil
	}
	return feedback.LoadFile(cfg.Feedback.HistoryFile, cfg.Extractor.ConfidenceThreshold, logger)
}

func saveFeedbackStore(cfg *config.Config, s *feedback.MemoryStore) error {
	if cfg.Feedback.HistoryFile == "" {
		return nil
	}
	return s.WriteFile(cfg.Feedback.HistoryFile)
}

func newFeedbackSubmitCmd() *cobra.Command {
	var batchPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a correction batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			cfg := config.Get()

			var (
				data []byte
				err  error
			)
			if batchPath == "" || batchPath == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(batchPath)
			}
			if err != nil {
				return fmt.Errorf("failed to read correction batch: %w", err)
			}

			var batch schemas.FeedbackBatch
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("failed to parse correction batch: %w", err)
			}

			store, err := openFeedbackStore(cfg)
			if err != nil {
				return err
			}
			if err := store.Submit(batch); err != nil {
				return err
			}
			if err := saveFeedbackStore(cfg, store); err != nil {
				return err
			}

			logger.Info("Correction batch accepted",
				zap.String("extraction_id", batch.ExtractionID),
				zap.Int("corrections", len(batch.Corrections)),
				zap.Float64("threshold", store.Threshold()))
			return writeJSON("", store.Stats(), true)
		},
	}

	cmd.Flags().StringVarP(&batchPath, "file", "f", "", "correction batch JSON file (default stdin)")
	return cmd
}

func newFeedbackStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate feedback statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFeedbackStore(config.Get())
			if err != nil {
				return err
			}

			out := struct {
				schemas.FeedbackStats
				ConfidenceThreshold float64 `json:"confidence_threshold"`
			}{store.Stats(), store.Threshold()}
			return writeJSON("", out, true)
		},
	}
}

func newFeedbackThresholdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-threshold <value>",
		Short: "Override the confidence threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid threshold %q: %w", args[0], err)
			}

			cfg := config.Get()
			store, err := openFeedbackStore(cfg)
			if err != nil {
				return err
			}
			store.SetThreshold(value)
			if err := saveFeedbackStore(cfg, store); err != nil {
				return err
			}

			observability.GetLogger().Info("Confidence threshold updated",
				zap.Float64("threshold", store.Threshold()))
			return nil
		},
	}
}
