// Package catalog holds the static pattern tables driving entity and relation
// extraction. Declaration order is meaningful: it is the tie-break priority
// when the same surface text matches more than one entity pattern.
package catalog

import (
	"regexp"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
)

// EntityPattern recognizes one entity type via a compiled regular expression.
// BaseConfidence reflects pattern strength: curated named-entity lists and
// strict identifier formats score higher than broad keyword classes.
type EntityPattern struct {
	Type           schemas.EntityType
	Regex          *regexp.Regexp
	BaseConfidence float64
}

// PhrasePattern is a directional "<source> <verb> <target>" relation pattern
// applied to raw text. The three capture groups are source token, matched
// verb phrase, and target token.
type PhrasePattern struct {
	Regex    *regexp.Regexp
	Relation schemas.RelationType
}

// ProximityPattern describes a typed relation inferred from a keyword
// appearing in the text between two nearby entities whose types fall in the
// pattern's domain and range.
type ProximityPattern struct {
	SourceTypes []schemas.EntityType
	TargetTypes []schemas.EntityType
	Keywords    []string
	Relation    schemas.RelationType
}

// entityPatterns is ordered by priority. A mention claimed by an earlier
// pattern keeps its type even if a later pattern matches the same text.
var entityPatterns = []EntityPattern{
	{
		Type:           schemas.EntityThreatActor,
		Regex:          regexp.MustCompile(`(?i)\b(?:APT\d+|Lazarus(?: Group)?|Fancy Bear|Cozy Bear|Sandworm|Equation Group|Carbanak|FIN\d+|Turla|Winnti|Kimsuky|OilRig|Charming Kitten|Wizard Spider|Bronze Butler)\b`),
		BaseConfidence: 0.92,
	},
	{
		Type:           schemas.EntityMalware,
		Regex:          regexp.MustCompile(`(?i)\b(?:Zebrocy|TrickBot|Emotet|Ryuk|WannaCry|NotPetya|Maze|REvil|Conti|DarkSide|BlackMatter|LockBit|Qbot|Dridex|IcedID|BazarLoader|CobaltStrike|njRAT|DarkComet|AsyncRAT)\b`),
		BaseConfidence: 0.91,
	},
	{
		Type:           schemas.EntityVulnerability,
		Regex:          regexp.MustCompile(`(?i)\b(?:CVE-\d{4}-\d{4,7}|MS\d{2}-\d{3})\b`),
		BaseConfidence: 0.97,
	},
	{
		Type:           schemas.EntityIndicator,
		Regex:          regexp.MustCompile(`\b(?:(?:\d{1,3}\.){3}\d{1,3}|[a-fA-F0-9]{64}|[a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`),
		BaseConfidence: 0.90,
	},
	{
		Type:           schemas.EntityCampaign,
		Regex:          regexp.MustCompile(`\bOperation [A-Z][A-Za-z0-9]+\b`),
		BaseConfidence: 0.90,
	},
	{
		Type:           schemas.EntityTool,
		Regex:          regexp.MustCompile(`(?i)\b(?:Mimikatz|PowerShell Empire|Cobalt Strike|Metasploit|Empire|PsExec|BloodHound|WMI)\b`),
		BaseConfidence: 0.89,
	},
	{
		Type:           schemas.EntityTechnique,
		Regex:          regexp.MustCompile(`(?i)\b(?:spear[- ]?phishing|phishing|lateral movement|privilege escalation|credential dumping|pass[- ]the[- ]hash|dll injection|process injection|command[- ]and[- ]control|C2|exfiltration|data theft|SQL injection|XSS|buffer overflow|DDoS)\b`),
		BaseConfidence: 0.88,
	},
	{
		Type:           schemas.EntityLocation,
		Regex:          regexp.MustCompile(`\b(?:Russia|China|North Korea|Iran|Ukraine|United States|Eastern Europe|Middle East|Asia|Europe)\b`),
		BaseConfidence: 0.86,
	},
	{
		Type:           schemas.EntityOrganization,
		Regex:          regexp.MustCompile(`(?i)\b(?:government|military|healthcare|financial|energy sector|energy|critical infrastructure|defense contractor|finance)\b`),
		BaseConfidence: 0.85,
	},
}

// phrasePatterns are matched independently of each other, so one passage may
// yield several relation types for the same pair. Exact duplicate triples are
// suppressed downstream.
var phrasePatterns = []PhrasePattern{
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(uses?|deploys?|leverages?|utilizes?)\s+([\w-]+)`), schemas.RelationUses},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(targets?|attacks?)\s+([\w-]+)`), schemas.RelationTargets},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(exploits?|exploiting)\s+(CVE-\d{4}-\d{4,7}|[\w-]+)`), schemas.RelationExploits},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(also known as|aka)\s+([\w-]+)`), schemas.RelationAKA},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(communicates? via|beacons? to)\s+([\w-]+)`), schemas.RelationCommunicatesVia},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(located in|originates? from|based in)\s+([\w-]+)`), schemas.RelationLocatedIn},
	{regexp.MustCompile(`(?i)\b([\w-]+)\s+(attributed to|linked to)\s+([\w-]+)`), schemas.RelationAttributedTo},
}

var proximityPatterns = []ProximityPattern{
	{
		SourceTypes: []schemas.EntityType{schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityMalware},
		Keywords:    []string{"uses", "deploys", "leverages", "distributes", "operates"},
		Relation:    schemas.RelationUses,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityOrganization},
		Keywords:    []string{"targets", "attacks", "compromises", "infiltrates"},
		Relation:    schemas.RelationTargets,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityMalware, schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityVulnerability},
		Keywords:    []string{"exploits", "leverages", "abuses", "takes advantage of"},
		Relation:    schemas.RelationExploits,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityTechnique},
		Keywords:    []string{"uses", "employs", "leverages", "utilizes"},
		Relation:    schemas.RelationLeverages,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityTool},
		Keywords:    []string{"uses", "employs", "leverages"},
		Relation:    schemas.RelationUses,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityMalware},
		TargetTypes: []schemas.EntityType{schemas.EntityIndicator},
		Keywords:    []string{"connects to", "communicates with", "beacons to", "contacts"},
		Relation:    schemas.RelationConnectsTo,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityMalware},
		TargetTypes: []schemas.EntityType{schemas.EntityIndicator, schemas.EntityTechnique},
		Keywords:    []string{"communicates via", "connects through"},
		Relation:    schemas.RelationCommunicatesVia,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityThreatActor},
		Keywords:    []string{"also known as", "aka", "identified as", "aliases"},
		Relation:    schemas.RelationAKA,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityOrganization, schemas.EntityThreatActor},
		TargetTypes: []schemas.EntityType{schemas.EntityLocation},
		Keywords:    []string{"located in", "based in", "operates in"},
		Relation:    schemas.RelationLocatedIn,
	},
	{
		SourceTypes: []schemas.EntityType{schemas.EntityCampaign, schemas.EntityMalware},
		TargetTypes: []schemas.EntityType{schemas.EntityThreatActor},
		Keywords:    []string{"attributed to", "linked to", "associated with"},
		Relation:    schemas.RelationAttributedTo,
	},
}

// fallbackToken matches capitalized multi-character tokens for the generic
// entity fallback when no curated pattern fires.
var fallbackToken = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]{2,}\b`)

// Entities returns the ordered entity pattern table.
func Entities() []EntityPattern { return entityPatterns }

// Phrases returns the directional phrase relation patterns.
func Phrases() []PhrasePattern { return phrasePatterns }

// Proximity returns the typed proximity relation patterns.
func Proximity() []ProximityPattern { return proximityPatterns }

// FallbackToken returns the generic capitalized-token pattern.
func FallbackToken() *regexp.Regexp { return fallbackToken }

// ScoreEntity derives a deterministic confidence for an entity match from the
// pattern's base confidence and the match length. Scores stay within the
// [base, 0.99] band; longer surface forms are slightly more trustworthy.
func ScoreEntity(base float64, matchLen int) float64 {
	bonus := 0.002 * float64(min(matchLen, 10))
	return min(base+bonus, 0.99)
}

// ScorePhrase derives a deterministic confidence for an explicit phrase
// relation from the matched verb phrase. Longer, more specific phrasings land
// higher in the 0.88-0.99 band.
func ScorePhrase(verb string) float64 {
	return min(0.88+0.005*float64(min(len(verb), 22)), 0.99)
}

// ScoreKeyword is the pattern-quality factor for proximity relations: longer
// keywords are more specific and therefore stronger evidence.
func ScoreKeyword(keyword string) float64 {
	if len(keyword) > 5 {
		return 0.95
	}
	return 0.85
}
