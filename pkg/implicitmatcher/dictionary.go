// Package implicitmatcher provides text canonicalization and tokenization
// (used by the classifier's rule-based fallback, the retrieval planner's
// fallback and the search engine's entity-match ranking term) and
// Aho-Corasick based entity scanning (used by the classifier's fallback).
package implicitmatcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
)

// ============================================================================
// UNIFIED CANONICALIZER - used for BOTH pattern compilation AND document scanning
// ============================================================================

// isJoiner returns true for punctuation that commonly appears INSIDE names and
// terms. These are preserved during canonicalization so multiword entities
// stay coherent. Examples: "O'Brien", "Jean-Luc", "AT&T", "go-sqlite3".
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘', // apostrophe, curly apostrophe variants
		'-', '–', '—', // hyphen, en-dash, em-dash
		'·', '.', '_', '/', '#', '&': // middle dot, period, underscore, etc.
		return true
	default:
		return false
	}
}

// isSeparator returns true for characters that split tokens.
func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// CanonicalizeForMatch transforms text into a normalized form for Aho-Corasick
// matching. This is THE function used by both pattern compilation and
// document scanning:
//   - fold to lowercase
//   - preserve letters, digits, and joiners (apostrophe, hyphen, period, etc.)
//   - replace all other characters with a single space
//   - collapse multiple spaces into one
//   - trim leading/trailing spaces
func CanonicalizeForMatch(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true // start true to trim leading spaces

	for _, ch := range s {
		c := unicode.ToLower(ch)

		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else {
			if !lastWasSpace {
				out.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// ============================================================================
// TOKEN WITH OFFSETS - for span anchoring back into the original text
// ============================================================================

// Tok represents a token with its position in the original text.
type Tok struct {
	Text  string // canonicalized token text
	Start int    // byte offset in original string
	End   int    // byte offset (exclusive)
}

// TokenizeWithOffsets splits text into tokens while preserving byte offsets,
// so a match found in canonicalized text can be anchored back into the
// original chat_history row for highlighting or audit.
func TokenizeWithOffsets(s string) []Tok {
	out := make([]Tok, 0, 64)

	i := 0
	for i < len(s) {
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if !isSeparator(r) {
				break
			}
			i += w
		}
		start := i

		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if isSeparator(r) {
				break
			}
			i += w
		}
		end := i

		if start < end {
			out = append(out, Tok{Text: CanonicalizeForMatch(s[start:end]), Start: start, End: end})
		}
	}

	return out
}

// ============================================================================
// Stop words
// ============================================================================

var english = stopwords.MustGet("en")

// IsStopWord reports whether a canonicalized token is a common English stop
// word, using the shared stopword list rather than a hand-maintained map.
func IsStopWord(token string) bool {
	return english.Contains(token)
}

// TokenizeNorm splits and normalizes text, filtering stop words. Used by the
// classifier's rule-based fallback and the retrieval planner's fallback path
// to pull candidate keywords/entities out of raw user input.
func TokenizeNorm(text string) []string {
	normalized := CanonicalizeForMatch(text)
	words := strings.Fields(normalized)

	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 0 && !IsStopWord(w) {
			result = append(result, w)
		}
	}
	return result
}

// ============================================================================
// Entity types
// ============================================================================

// EntityKind is the coarse classification bucket a memory_entities row falls
// into. It mirrors the category groups the classifier assigns entities to.
type EntityKind int

const (
	KindPerson EntityKind = iota
	KindTechnology
	KindTopic
	KindSkill
	KindProject
	KindKeyword
	KindOther
)

// Priority returns the matching priority used to pick a representative entity
// when several share a matched surface form (higher wins).
func (k EntityKind) Priority() int {
	switch k {
	case KindPerson:
		return 10
	case KindProject:
		return 8
	case KindTechnology, KindSkill:
		return 6
	case KindTopic:
		return 4
	case KindKeyword:
		return 2
	default:
		return 1
	}
}

func (k EntityKind) String() string {
	names := []string{"person", "technology", "topic", "skill", "project", "keyword", "other"}
	if int(k) < len(names) {
		return names[k]
	}
	return "other"
}

// ParseKind parses a string (as produced by the classifier, case-insensitive)
// into an EntityKind.
func ParseKind(s string) EntityKind {
	switch strings.ToLower(s) {
	case "person", "people":
		return KindPerson
	case "technology", "technologies", "tech":
		return KindTechnology
	case "topic", "topics":
		return KindTopic
	case "skill", "skills":
		return KindSkill
	case "project", "projects":
		return KindProject
	case "keyword", "keywords":
		return KindKeyword
	default:
		return KindOther
	}
}

// UnmarshalJSON allows EntityKind to be deserialized from a JSON string.
func (k *EntityKind) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	*k = ParseKind(s)
	return nil
}

// MarshalJSON renders EntityKind as its lowercase name.
func (k EntityKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// EntityInfo holds entity metadata attached to a dictionary pattern.
type EntityInfo struct {
	ID       string // memory_entities.entity_id
	Label    string
	Kind     EntityKind
	MemoryID string // owning short_term_memory or long_term_memory row
}

// RegisteredEntity is input for dictionary compilation.
type RegisteredEntity struct {
	ID       string
	Label    string
	Aliases  []string
	Kind     interface{} // string, EntityKind, or int; coerced by Compile
	MemoryID string
}

// ============================================================================
// RuntimeDictionary - dual-purpose Aho-Corasick automaton
// ============================================================================

// RuntimeDictionary uses a single Aho-Corasick automaton for both dictionary
// lookup (is this surface form known?) and full-text scanning (where does a
// known surface form occur in this chat turn?). The classifier's rule-based
// fallback compiles one of these per namespace from the namespace's known
// memory_entities rows.
type RuntimeDictionary struct {
	ac *ahocorasick.Automaton

	patternToIDs [][]string
	patternIndex map[string]int
	idToInfo     map[string]*EntityInfo
	patterns     []string
}

// NewRuntimeDictionary creates an empty dictionary.
func NewRuntimeDictionary() *RuntimeDictionary {
	return &RuntimeDictionary{
		patternToIDs: [][]string{},
		patternIndex: make(map[string]int),
		idToInfo:     make(map[string]*EntityInfo),
		patterns:     []string{},
	}
}

// Compile builds a RuntimeDictionary from registered entities, normalizing
// every surface form with CanonicalizeForMatch so lookup and scan agree.
func Compile(entities []RegisteredEntity) (*RuntimeDictionary, error) {
	dict := NewRuntimeDictionary()

	for _, e := range entities {
		var k EntityKind
		switch v := e.Kind.(type) {
		case EntityKind:
			k = v
		case int:
			k = EntityKind(v)
		case string:
			k = ParseKind(v)
		case float64:
			k = EntityKind(int(v))
		default:
			k = KindOther
		}

		dict.idToInfo[e.ID] = &EntityInfo{
			ID:       e.ID,
			Label:    e.Label,
			Kind:     k,
			MemoryID: e.MemoryID,
		}

		surfaces := append([]string{e.Label}, e.Aliases...)

		for _, surface := range surfaces {
			key := CanonicalizeForMatch(surface)
			if key == "" {
				continue
			}

			if idx, exists := dict.patternIndex[key]; exists {
				dict.patternToIDs[idx] = appendUnique(dict.patternToIDs[idx], e.ID)
			} else {
				idx := len(dict.patterns)
				dict.patterns = append(dict.patterns, key)
				dict.patternIndex[key] = idx
				dict.patternToIDs = append(dict.patternToIDs, []string{e.ID})
			}
		}
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(dict.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	dict.ac = automaton

	return dict, nil
}

// ============================================================================
// Dictionary lookup
// ============================================================================

// Lookup finds entities matching a surface form (exact dictionary lookup).
func (d *RuntimeDictionary) Lookup(surface string) []*EntityInfo {
	if d.ac == nil {
		return nil
	}

	key := CanonicalizeForMatch(surface)
	idx, exists := d.patternIndex[key]
	if !exists {
		return nil
	}

	ids := d.patternToIDs[idx]
	result := make([]*EntityInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := d.idToInfo[id]; ok {
			result = append(result, info)
		}
	}
	return result
}

// IsKnownEntity checks if a token matches any known entity.
func (d *RuntimeDictionary) IsKnownEntity(token string) bool {
	key := CanonicalizeForMatch(token)
	_, exists := d.patternIndex[key]
	return exists
}

// GetInfo retrieves entity info by ID.
func (d *RuntimeDictionary) GetInfo(id string) *EntityInfo {
	return d.idToInfo[id]
}

// ============================================================================
// Text scanning
// ============================================================================

// Match represents a detected entity mention in text.
type Match struct {
	Start       int    // byte offset start in the ORIGINAL text
	End         int    // byte offset end in the ORIGINAL text
	MatchedText string // original text slice (preserves casing)
	PatternIdx  int    // index into the patterns slice
}

// Scan finds all entity mentions in text in O(n) via the Aho-Corasick
// automaton. Offsets are mapped back onto the original (non-canonicalized)
// text so callers can slice the source chat_history row directly.
func (d *RuntimeDictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}

	canonicalized := CanonicalizeForMatch(text)
	haystack := []byte(canonicalized)
	canonToOrig := buildOffsetMap(text)

	matches := d.ac.FindAllOverlapping(haystack)
	result := make([]Match, 0, len(matches))

	for _, m := range matches {
		origStart := mapOffset(m.Start, canonToOrig, len(text))
		origEnd := mapOffset(m.End, canonToOrig, len(text))

		if origStart >= len(text) || origEnd > len(text) || origStart >= origEnd {
			continue
		}

		result = append(result, Match{
			Start:       origStart,
			End:         origEnd,
			MatchedText: text[origStart:origEnd],
			PatternIdx:  m.PatternID,
		})
	}

	return result
}

// buildOffsetMap maps each byte position in the canonicalized string back to
// the corresponding position in the original string, so matches found in
// canonicalized text can be anchored to the source.
func buildOffsetMap(original string) []int {
	mapping := make([]int, 0, len(original)+1)

	lastWasSpace := true
	origPos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)

		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			canonLen := utf8.RuneLen(c)
			for i := 0; i < canonLen; i++ {
				mapping = append(mapping, origPos)
			}
			lastWasSpace = false
		} else {
			if !lastWasSpace {
				mapping = append(mapping, origPos)
				lastWasSpace = true
			}
		}

		origPos += runeLen
	}

	mapping = append(mapping, origPos)

	return mapping
}

func mapOffset(canonOffset int, mapping []int, originalLen int) int {
	if canonOffset >= len(mapping) {
		return originalLen
	}
	if canonOffset < 0 {
		return 0
	}
	return mapping[canonOffset]
}

// ScanWithInfo returns matches together with the entities each one resolves to.
func (d *RuntimeDictionary) ScanWithInfo(text string) []struct {
	Match
	Entities []*EntityInfo
} {
	matches := d.Scan(text)
	result := make([]struct {
		Match
		Entities []*EntityInfo
	}, 0, len(matches))

	for _, m := range matches {
		ids := d.patternToIDs[m.PatternIdx]
		entities := make([]*EntityInfo, 0, len(ids))
		for _, id := range ids {
			if info := d.idToInfo[id]; info != nil {
				entities = append(entities, info)
			}
		}

		result = append(result, struct {
			Match
			Entities []*EntityInfo
		}{m, entities})
	}

	return result
}

// SelectBest picks the highest-priority entity among a set of candidate IDs,
// used when a matched surface form resolves to more than one known entity.
func (d *RuntimeDictionary) SelectBest(ids []string) *EntityInfo {
	var best *EntityInfo
	for _, id := range ids {
		info := d.idToInfo[id]
		if info == nil {
			continue
		}
		if best == nil || info.Kind.Priority() > best.Kind.Priority() {
			best = info
		}
	}
	return best
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}
