package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

// historyFile is the on-disk snapshot of a store: the adjusted threshold and
// the full batch history.
type historyFile struct {
	Threshold float64                 `json:"threshold"`
	History   []schemas.FeedbackBatch `json:"history"`
}

// LoadFile restores a store from a history snapshot. A missing file yields a
// fresh store with the given starting threshold. Batches are restored as
// recorded; the saved threshold wins over the configured one.
func LoadFile(path string, threshold float64, logger *zap.Logger) (*MemoryStore, error) {
	s := NewMemoryStore(threshold, logger)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback history: %w", err)
	}

	var snapshot historyFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse feedback history: %w", err)
	}

	s.mu.Lock()
	s.history = snapshot.History
	if snapshot.Threshold != 0 {
		s.threshold = clamp(snapshot.Threshold, thresholdFloor, thresholdCeil)
	}
	s.mu.Unlock()

	s.log.Debug("Feedback history restored",
		zap.String("path", path),
		zap.Int("batches", len(snapshot.History)))
	return s, nil
}

// WriteFile snapshots the store to disk. The write goes through a temp file
// and rename so a crash never leaves a truncated history.
func (s *MemoryStore) WriteFile(path string) error {
	s.mu.RLock()
	snapshot := historyFile{
		Threshold: s.threshold,
		History:   s.history,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feedback history: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write feedback history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace feedback history: %w", err)
	}
	return nil
}
