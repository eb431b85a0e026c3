// Package ai implements the model-backed extraction path. A hosted or local
// LLM is prompted for subject-relation-object triples, and its output is
// validated against the same vocabularies the pattern path uses.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
)

const promptTemplate = `You are a cyber threat intelligence analyst. Extract knowledge graph triples from the report below.

Entity types: threat-actor, malware, vulnerability, tool, technique, indicator, campaign, location, organization.
Relation types: uses, targets, exploits, communicates_via, aka, located_in, attributed_to, leverages, connects_to, related_to.

Respond with ONLY a JSON object of this shape, no prose:
{"triples":[{"source":"...","source_type":"...","relation":"...","target":"...","target_type":"...","confidence":0.0}]}

Report:
%s`

// triple is the wire shape the model is asked to produce.
type triple struct {
	Source     string  `json:"source"`
	SourceType string  `json:"source_type"`
	Relation   string  `json:"relation"`
	Target     string  `json:"target"`
	TargetType string  `json:"target_type"`
	Confidence float64 `json:"confidence"`
}

// Extractor prompts an LLM for triples and converts validated output into
// entities and relations. It satisfies the pipeline's external extractor
// contract.
type Extractor struct {
	model       llms.Model
	name        string
	temperature float64
	log         *zap.Logger
}

// New creates an Extractor over an initialized model. The name tags result
// metadata. logger may be nil.
func New(model llms.Model, name string, temperature float64, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{model: model, name: name, temperature: temperature, log: logger.Named("ai")}
}

// Name returns the model tag recorded in result metadata.
func (x *Extractor) Name() string { return x.name }

// Extract prompts the model and parses its response. Invalid triples are
// dropped individually; the call only fails when the model call itself fails
// or the response carries no JSON at all.
func (x *Extractor) Extract(ctx context.Context, text string) ([]schemas.Entity, []schemas.Relation, error) {
	prompt := fmt.Sprintf(promptTemplate, text)
	raw, err := llms.GenerateFromSinglePrompt(ctx, x.model, prompt, llms.WithTemperature(x.temperature))
	if err != nil {
		return nil, nil, fmt.Errorf("model call: %w", err)
	}

	triples, err := parseTriples(raw)
	if err != nil {
		return nil, nil, err
	}

	entities, relations := x.assemble(text, triples)
	x.log.Debug("Model extraction parsed",
		zap.Int("triples", len(triples)),
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)))
	return entities, relations, nil
}

// parseTriples tolerates code fences and either the documented wrapper
// object or a bare array.
func parseTriples(raw string) ([]triple, error) {
	cleaned := stripFences(raw)

	var wrapper struct {
		Triples []triple `json:"triples"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil && wrapper.Triples != nil {
		return wrapper.Triples, nil
	}

	var bare []triple
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("model response is not valid triple JSON: %.80s", cleaned)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// assemble converts triples into deduplicated entities and relations.
// Entity offsets come from the first case-insensitive occurrence in the
// source text, zero when the model hallucinated a mention.
func (x *Extractor) assemble(text string, triples []triple) ([]schemas.Entity, []schemas.Relation) {
	var (
		entities  []schemas.Entity
		relations []schemas.Relation
	)
	entityIDs := make(map[string]string)
	seenRel := make(map[string]struct{})
	lowerText := strings.ToLower(text)

	addEntity := func(mention, typeName string, conf float64) (string, bool) {
		mention = strings.TrimSpace(mention)
		if mention == "" {
			return "", false
		}
		key := strings.ToLower(mention)
		if id, ok := entityIDs[key]; ok {
			return id, true
		}

		start, end := locate(lowerText, key)
		id := fmt.Sprintf("e%d", len(entities)+1)
		entityIDs[key] = id
		entities = append(entities, schemas.Entity{
			ID:         id,
			Text:       mention,
			Type:       schemas.ParseEntityType(typeName),
			Confidence: clampConfidence(conf),
			Start:      start,
			End:        end,
		})
		return id, true
	}

	for _, tr := range triples {
		rel := schemas.RelationType(strings.ToLower(strings.TrimSpace(tr.Relation)))
		if !rel.Valid() {
			x.log.Debug("Dropping triple with unknown relation", zap.String("relation", tr.Relation))
			continue
		}

		sourceID, ok := addEntity(tr.Source, tr.SourceType, tr.Confidence)
		if !ok {
			continue
		}
		targetID, ok := addEntity(tr.Target, tr.TargetType, tr.Confidence)
		if !ok || sourceID == targetID {
			continue
		}

		key := sourceID + "|" + string(rel) + "|" + targetID
		if _, dup := seenRel[key]; dup {
			continue
		}
		seenRel[key] = struct{}{}
		relations = append(relations, schemas.Relation{
			ID:         fmt.Sprintf("r%d", len(relations)+1),
			Source:     sourceID,
			Target:     targetID,
			Relation:   rel,
			Confidence: clampConfidence(tr.Confidence),
		})
	}

	return entities, relations
}

// locate returns the rune offsets of the first occurrence of needle in the
// lowercased text, or (0, 0) when absent.
func locate(lowerText, needle string) (int, int) {
	idx := strings.Index(lowerText, needle)
	if idx < 0 {
		return 0, 0
	}
	start := utf8.RuneCountInString(lowerText[:idx])
	return start, start + utf8.RuneCountInString(needle)
}

func clampConfidence(v float64) float64 {
	if v == 0 {
		return 0.8
	}
	return min(max(v, 0.5), 0.99)
}

// NewModelFromConfig initializes the configured LLM provider.
func NewModelFromConfig(cfg config.AIConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(anthropic.WithModel(cfg.Model), anthropic.WithToken(cfg.APIKey))
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
