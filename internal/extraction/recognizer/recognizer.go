// Package recognizer turns raw report text into typed entity mentions using
// the static pattern catalog, a capitalized-token fallback, and accumulated
// reviewer feedback.
package recognizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction/catalog"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/feedback"
)

// corroborationFloor is the minimum agreeing-correction streak before
// feedback overrides a pattern-assigned type.
const corroborationFloor = 2

// FeedbackSource supplies the correction streaks applied after pattern
// matching. A nil source disables the bias entirely.
type FeedbackSource interface {
	CorrectionMap() map[string]feedback.Correction
}

// Recognizer finds entity mentions in text. Safe for concurrent use; all
// mutable state lives in the feedback source.
type Recognizer struct {
	cfg config.ExtractorConfig
	fb  FeedbackSource
	log *zap.Logger
}

// New creates a Recognizer. logger may be nil.
func New(cfg config.ExtractorConfig, fb FeedbackSource, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{cfg: cfg, fb: fb, log: logger.Named("recognizer")}
}

// Recognize extracts entities from text. Offsets in the returned entities are
// rune offsets. Pattern declaration order is the priority order: once a
// surface form is claimed, later patterns and the fallback cannot re-type it.
func (r *Recognizer) Recognize(text string) []schemas.Entity {
	runeOff := runeOffsets(text)

	var entities []schemas.Entity
	seen := make(map[string]struct{})

	add := func(raw string, typ schemas.EntityType, conf float64, byteStart, byteEnd int) {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, schemas.Entity{
			ID:         fmt.Sprintf("e%d", len(entities)+1),
			Text:       raw,
			Type:       typ,
			Confidence: conf,
			Start:      runeOff[byteStart],
			End:        runeOff[byteEnd],
		})
	}

	for _, p := range catalog.Entities() {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			add(raw, p.Type, catalog.ScoreEntity(p.BaseConfidence, len(raw)), loc[0], loc[1])
		}
	}

	if len(entities) == 0 {
		r.addFallback(text, runeOff, seen, &entities)
	}
	r.applyFeedback(entities)

	r.log.Debug("Recognized entities",
		zap.Int("count", len(entities)),
		zap.Int("text_length", len(runeOff)))
	return entities
}

// addFallback picks up capitalized tokens when no curated pattern matched at
// all, typed unknown, up to the configured cap.
func (r *Recognizer) addFallback(text string, runeOff []int, seen map[string]struct{}, entities *[]schemas.Entity) {
	limit := r.cfg.MaxFallbackEntities
	if limit <= 0 {
		return
	}

	added := 0
	for _, loc := range catalog.FallbackToken().FindAllStringIndex(text, -1) {
		if added >= limit {
			break
		}
		raw := text[loc[0]:loc[1]]
		key := strings.ToLower(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		*entities = append(*entities, schemas.Entity{
			ID:         fmt.Sprintf("e%d", len(*entities)+1),
			Text:       raw,
			Type:       schemas.EntityUnknown,
			Confidence: fallbackConfidence(len(raw)),
			Start:      runeOff[loc[0]],
			End:        runeOff[loc[1]],
		})
		added++
	}
}

// applyFeedback overrides entity types that reviewers have corrected at least
// twice in agreement, with a small confidence boost for the corroboration.
func (r *Recognizer) applyFeedback(entities []schemas.Entity) {
	if r.fb == nil {
		return
	}
	corrections := r.fb.CorrectionMap()
	if len(corrections) == 0 {
		return
	}

	for i := range entities {
		key := strings.ToLower(strings.TrimSpace(entities[i].Text))
		c, ok := corrections[key]
		if !ok || c.Frequency < corroborationFloor {
			continue
		}
		if entities[i].Type != c.Type {
			r.log.Debug("Applying feedback correction",
				zap.String("text", entities[i].Text),
				zap.String("from", string(entities[i].Type)),
				zap.String("to", string(c.Type)))
			entities[i].Type = c.Type
		}
		entities[i].Confidence = min(entities[i].Confidence+0.05, 0.99)
	}
}

// fallbackConfidence scores uncertain generic tokens well below the curated
// patterns, with a slight bonus for longer tokens.
func fallbackConfidence(tokenLen int) float64 {
	return min(0.75+0.01*float64(min(tokenLen, 10)), 0.90)
}

// runeOffsets maps every byte offset of text (inclusive of len(text)) to the
// corresponding rune offset, so regex byte positions convert in O(1).
func runeOffsets(text string) []int {
	offsets := make([]int, len(text)+1)
	runes := 0
	pos := 0
	for _, r := range text {
		w := utf8.RuneLen(r)
		for j := 0; j < w; j++ {
			offsets[pos+j] = runes
		}
		pos += w
		runes++
	}
	offsets[len(text)] = runes
	return offsets
}
