// Package feedback implements the append-only correction history and the
// confidence-threshold control loop it drives. Corrections submitted by
// reviewers bias future entity typing; deletion rates nudge the global
// confidence threshold up or down.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

// ErrInvalidBatch is returned when a submitted batch is structurally
// malformed. Nothing from a rejected batch reaches the history.
var ErrInvalidBatch = errors.New("invalid feedback batch")

// Threshold bounds. The hysteresis loop operates inside the narrower
// [0.75, 0.95] band; manual SetThreshold accepts the full component range.
const (
	thresholdFloor = 0.5
	thresholdCeil  = 0.99

	hysteresisFloor = 0.75
	hysteresisCeil  = 0.95

	// DefaultThreshold is used when no starting value is configured.
	DefaultThreshold = 0.85
)

// Correction is the aggregate view of the history for one normalized entity
// text: the most recently corroborated corrected type and how many
// consecutive agreeing corrections support it.
type Correction struct {
	Type      schemas.EntityType
	Frequency int
}

// Store is the process-wide feedback state consulted by the recognizer and
// fed by the review UI.
type Store interface {
	Submit(batch schemas.FeedbackBatch) error
	CorrectionMap() map[string]Correction
	Stats() schemas.FeedbackStats
	Threshold() float64
	SetThreshold(v float64)
}

// MemoryStore is the in-memory Store implementation. Submissions are
// serialized by a single writer lock; recognizer reads observe a consistent
// prior snapshot.
type MemoryStore struct {
	mu        sync.RWMutex
	history   []schemas.FeedbackBatch
	threshold float64
	log       *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store with the given starting threshold, clamped
// to the component bounds. A zero threshold selects the default.
func NewMemoryStore(threshold float64, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &MemoryStore{
		threshold: clamp(threshold, thresholdFloor, thresholdCeil),
		log:       logger.Named("feedback"),
	}
}

// Submit validates and appends a correction batch, then recomputes the
// confidence threshold from the batch's false-positive rate. History is
// append-only; nothing is ever removed.
func (s *MemoryStore) Submit(batch schemas.FeedbackBatch) error {
	if err := validateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, batch)
	s.adjustThreshold(batch)

	s.log.Info("Feedback batch recorded",
		zap.String("extraction_id", batch.ExtractionID),
		zap.Int("corrections", len(batch.Corrections)),
		zap.Float64("threshold", s.threshold))
	return nil
}

func validateBatch(batch schemas.FeedbackBatch) error {
	if strings.TrimSpace(batch.ExtractionID) == "" {
		return fmt.Errorf("%w: extraction_id is required", ErrInvalidBatch)
	}
	if len(batch.Corrections) == 0 {
		return fmt.Errorf("%w: at least one correction is required", ErrInvalidBatch)
	}
	for i, c := range batch.Corrections {
		if strings.TrimSpace(c.OriginalEntity.Text) == "" {
			return fmt.Errorf("%w: correction %d is missing the original entity text", ErrInvalidBatch, i)
		}
		if !c.ShouldDelete && c.CorrectedType == "" && c.CorrectedText == "" {
			return fmt.Errorf("%w: correction %d carries no change", ErrInvalidBatch, i)
		}
	}
	return nil
}

// adjustThreshold is a simple hysteresis control loop, not a learned model:
// too many deletions (false positives) raise the bar, very few lower it.
// Callers must hold the write lock.
func (s *MemoryStore) adjustThreshold(batch schemas.FeedbackBatch) {
	total := len(batch.Corrections)
	if total == 0 {
		return
	}

	falsePositives := 0
	for _, c := range batch.Corrections {
		if c.ShouldDelete {
			falsePositives++
		}
	}
	errorRate := float64(falsePositives) / float64(total)

	switch {
	case errorRate > 0.3 && s.threshold < hysteresisCeil:
		s.threshold = min(s.threshold+0.02, hysteresisCeil)
		s.log.Debug("Raised confidence threshold", zap.Float64("threshold", s.threshold), zap.Float64("error_rate", errorRate))
	case errorRate < 0.1 && s.threshold > hysteresisFloor:
		s.threshold = max(s.threshold-0.01, hysteresisFloor)
		s.log.Debug("Lowered confidence threshold", zap.Float64("threshold", s.threshold), zap.Float64("error_rate", errorRate))
	}
}

// CorrectionMap folds the full history into per-entity-text correction
// streaks. A correction for the same text with the same corrected type
// increments the streak; a diverging type restarts it. The recognizer only
// acts on streaks of two or more, so a single complaint never flips behavior.
func (s *MemoryStore) CorrectionMap() map[string]Correction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := make(map[string]Correction)
	for _, batch := range s.history {
		for _, c := range batch.Corrections {
			if c.ShouldDelete || c.CorrectedType == "" {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(c.OriginalEntity.Text))
			corrected := schemas.ParseEntityType(c.CorrectedType)
			if prev, ok := m[key]; ok && prev.Type == corrected {
				prev.Frequency++
				m[key] = prev
			} else {
				m[key] = Correction{Type: corrected, Frequency: 1}
			}
		}
	}
	return m
}

// Stats returns aggregate feedback statistics. The improvement rate is
// derived from correction volume over the most recent ten batches: fewer
// corrections per recent batch means the extractor is doing better.
func (s *MemoryStore) Stats() schemas.FeedbackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalCorrections := 0
	for _, batch := range s.history {
		totalCorrections += len(batch.Corrections)
	}

	improvement := 0.0
	recent := s.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if len(recent) > 0 {
		recentCorrections := 0
		for _, batch := range recent {
			recentCorrections += len(batch.Corrections)
		}
		perBatch := float64(recentCorrections) / float64(len(recent))
		improvement = clamp(1-perBatch/10, 0, 1)
	}

	return schemas.FeedbackStats{
		TotalFeedback:    len(s.history),
		TotalCorrections: totalCorrections,
		ImprovementRate:  improvement,
	}
}

// Threshold returns the current confidence threshold.
func (s *MemoryStore) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold overrides the threshold, clamped to [0.5, 0.99].
func (s *MemoryStore) SetThreshold(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = clamp(v, thresholdFloor, thresholdCeil)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
