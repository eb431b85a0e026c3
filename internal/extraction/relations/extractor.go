// Package relations infers typed relations between recognized entities using
// three passes over the source text: explicit verb phrases, typed proximity
// patterns, and a co-occurrence fallback when the first two come up short.
package relations

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/extraction/catalog"
)

// Extractor derives relations from text plus the entities recognized in it.
// Stateless and safe for concurrent use.
type Extractor struct {
	cfg config.ExtractorConfig
	log *zap.Logger
}

// New creates an Extractor. logger may be nil.
func New(cfg config.ExtractorConfig, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, log: logger.Named("relations")}
}

// Extract returns the relations found between entities. Relation Source and
// Target fields carry entity IDs. Duplicate (source, relation, target)
// triples are suppressed across all passes; the first pass to produce a
// triple wins.
func (x *Extractor) Extract(text string, entities []schemas.Entity) []schemas.Relation {
	if len(entities) < 2 {
		return nil
	}

	runes := []rune(text)
	byText := make(map[string]schemas.Entity, len(entities))
	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Text))
		if _, ok := byText[key]; !ok {
			byText[key] = e
		}
	}

	var relations []schemas.Relation
	seen := make(map[string]struct{})

	add := func(source, target schemas.Entity, rel schemas.RelationType, conf float64, context string) bool {
		if source.ID == target.ID {
			return false
		}
		key := source.ID + "|" + string(rel) + "|" + target.ID
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		relations = append(relations, schemas.Relation{
			ID:         fmt.Sprintf("r%d", len(relations)+1),
			Source:     source.ID,
			Target:     target.ID,
			Relation:   rel,
			Confidence: conf,
			Context:    context,
		})
		return true
	}

	x.extractPhrases(text, runes, byText, add)
	x.extractProximity(runes, entities, add)

	if len(relations) < x.cfg.MinRelations {
		x.chainFallback(entities, add)
	}

	x.log.Debug("Extracted relations",
		zap.Int("count", len(relations)),
		zap.Int("entities", len(entities)))
	return relations
}

type addFunc func(source, target schemas.Entity, rel schemas.RelationType, conf float64, context string) bool

// extractPhrases matches explicit "<source> <verb> <target>" constructions
// and keeps the ones where both tokens resolve to recognized entities.
func (x *Extractor) extractPhrases(text string, runes []rune, byText map[string]schemas.Entity, add addFunc) {
	for _, p := range catalog.Phrases() {
		for _, m := range p.Regex.FindAllStringSubmatch(text, -1) {
			source, ok := byText[strings.ToLower(m[1])]
			if !ok {
				continue
			}
			target, ok := byText[strings.ToLower(m[3])]
			if !ok {
				continue
			}

			context := strings.TrimSpace(m[0])
			if source.End < target.Start && target.Start <= len(runes) {
				context = strings.TrimSpace(string(runes[source.End:target.Start]))
			}
			add(source, target, p.Relation, catalog.ScorePhrase(m[2]), context)
		}
	}
}

// extractProximity scores typed entity pairs whose gap fits the configured
// window and whose intervening text carries a pattern keyword. Only the
// strongest pattern match is kept per ordered pair.
func (x *Extractor) extractProximity(runes []rune, entities []schemas.Entity, add addFunc) {
	ordered := make([]schemas.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	window := x.cfg.ProximityWindow
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			source, target := ordered[i], ordered[j]
			gap := target.Start - source.End
			if gap < 0 || gap > window {
				continue
			}
			if source.End > len(runes) || target.Start > len(runes) {
				continue
			}

			between := string(runes[source.End:target.Start])
			context := strings.ToLower(between)

			var (
				best     schemas.RelationType
				bestConf float64
			)
			for _, p := range catalog.Proximity() {
				if !hasType(p.SourceTypes, source.Type) || !hasType(p.TargetTypes, target.Type) {
					continue
				}
				for _, kw := range p.Keywords {
					if !strings.Contains(context, kw) {
						continue
					}
					avg := (source.Confidence + target.Confidence) / 2
					distance := max(0.7, 1-float64(gap)/float64(window))
					conf := avg * distance * catalog.ScoreKeyword(kw)
					if conf > bestConf {
						best, bestConf = p.Relation, conf
					}
				}
			}
			if bestConf > 0 {
				add(source, target, best, bestConf, strings.TrimSpace(between))
			}
		}
	}
}

// chainFallback links text-ordered neighbors with weak related_to edges so
// sparse documents still yield a connected graph.
func (x *Extractor) chainFallback(entities []schemas.Entity, add addFunc) {
	limit := x.cfg.MaxFallbackRelations
	if limit <= 0 {
		return
	}

	ordered := make([]schemas.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	n := min(len(ordered)-1, limit)
	added := 0
	for i := 0; i < len(ordered)-1 && added < n; i++ {
		source, target := ordered[i], ordered[i+1]
		avg := (source.Confidence + target.Confidence) / 2
		conf := min(0.80+0.4*max(0, avg-0.75), 0.90)
		if add(source, target, schemas.RelationRelatedTo, conf, "") {
			added++
		}
	}
}

func hasType(types []schemas.EntityType, t schemas.EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
