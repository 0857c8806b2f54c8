// Package store provides SQL-backed persistence for the memory layer, with
// an embedded single-file engine (SQLiteStore) as the default backend and a
// client-server engine (PostgresStore) with an equivalent feature set.
package store

import (
	"context"
	"time"
)

// Category is the classifier's top-level bucket for a processed memory.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategorySkill      Category = "skill"
	CategoryContext    Category = "context"
	CategoryRule       Category = "rule"
)

// ValidCategory reports whether c is one of the enumerated categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryFact, CategoryPreference, CategorySkill, CategoryContext, CategoryRule:
		return true
	default:
		return false
	}
}

// RetentionType controls a memory row's lifecycle.
type RetentionType string

const (
	RetentionShortTerm RetentionType = "short_term"
	RetentionLongTerm  RetentionType = "long_term"
	RetentionPermanent RetentionType = "permanent"
)

// MemoryType says which physical table a MemoryRow or EntityIndexRow lives in.
type MemoryType string

const (
	MemoryTypeShortTerm MemoryType = "short_term"
	MemoryTypeLongTerm  MemoryType = "long_term"
)

// ConsciousLabel flags a ProcessedMemory as a candidate for working-set
// promotion by the conscious analyzer.
type ConsciousLabel string

const (
	LabelUserIdentity      ConsciousLabel = "user_identity"
	LabelPreference        ConsciousLabel = "preference"
	LabelSkill             ConsciousLabel = "skill"
	LabelCurrentProject    ConsciousLabel = "current_project"
	LabelRepeatedReference ConsciousLabel = "repeated_reference"
)

// EntityGroups buckets extracted entities by kind. Each slice is a set:
// order is irrelevant and duplicates are collapsed before storage.
type EntityGroups struct {
	People       []string `json:"people"`
	Technologies []string `json:"technologies"`
	Topics       []string `json:"topics"`
	Skills       []string `json:"skills"`
	Projects     []string `json:"projects"`
	Keywords     []string `json:"keywords"`
}

// ByType returns every entity with its group name, for indexing into
// memory_entities rows.
func (g EntityGroups) ByType() map[string][]string {
	return map[string][]string{
		"person":     g.People,
		"technology": g.Technologies,
		"topic":      g.Topics,
		"skill":      g.Skills,
		"project":    g.Projects,
		"keyword":    g.Keywords,
	}
}

// Importance carries the classifier's four scoring dimensions plus the
// retention decision they imply.
type Importance struct {
	ImportanceScore    float64       `json:"importance_score"`
	NoveltyScore       float64       `json:"novelty_score"`
	RelevanceScore     float64       `json:"relevance_score"`
	ActionabilityScore float64       `json:"actionability_score"`
	RetentionType      RetentionType `json:"retention_type"`
	Reasoning          string        `json:"reasoning"`
}

// ProcessedMemory is the classifier's output record: a typed, validated
// shape serialized into the processed_data column of whichever memory table
// it ends up in.
type ProcessedMemory struct {
	Category           Category         `json:"category"`
	CategoryConfidence float64          `json:"category_confidence"`
	CategoryReasoning  string           `json:"category_reasoning"`
	Entities           EntityGroups     `json:"entities"`
	Importance         Importance       `json:"importance"`
	Summary            string           `json:"summary"`
	SearchableContent  string           `json:"searchable_content"`
	ShouldStore        bool             `json:"should_store"`
	ConsciousLabels    []ConsciousLabel `json:"conscious_labels"`
}

// MaxSummaryLen is the documented cap on ProcessedMemory.Summary.
const MaxSummaryLen = 500

// HasLabel reports whether the memory carries the given conscious label.
func (p ProcessedMemory) HasLabel(label ConsciousLabel) bool {
	for _, l := range p.ConsciousLabels {
		if l == label {
			return true
		}
	}
	return false
}

// ChatRecord is one row per recorded exchange, created on interceptor
// capture and never mutated thereafter.
type ChatRecord struct {
	ChatID     string
	UserInput  string
	AIOutput   string
	Model      string
	Timestamp  time.Time
	SessionID  string
	Namespace  string
	TokensUsed int
	Metadata   map[string]string
}

// MemoryRow is a short-term or long-term memory record. Fields that only
// apply to long-term rows (NoveltyScore, RelevanceScore, ActionabilityScore,
// ClassificationFlags) are zero-valued on short-term rows.
type MemoryRow struct {
	MemoryID            string
	ChatID              string // optional back-reference; "" if none
	Type                MemoryType
	ProcessedData       ProcessedMemory
	ImportanceScore     float64
	NoveltyScore        float64
	RelevanceScore      float64
	ActionabilityScore  float64
	CategoryPrimary     Category
	RetentionType       RetentionType
	Namespace           string
	CreatedAt           time.Time
	ExpiresAt           *time.Time // nil means permanent, never auto-pruned
	AccessCount         int
	LastAccessed        time.Time
	SearchableContent   string
	Summary             string
	ClassificationFlags []ConsciousLabel
	IsPermanentContext  bool
}

// EntityIndexRow is one extracted entity attached to a memory row. Deleting
// the parent memory row cascades to delete all of its entity rows.
type EntityIndexRow struct {
	EntityID       string
	MemoryID       string
	MemoryType     MemoryType
	EntityType     string // person, technology, topic, skill, project, keyword
	EntityValue    string
	RelevanceScore float64
	Namespace      string
	CreatedAt      time.Time
}

// RuleType enumerates the v1 rules surface's rule kinds.
type RuleType string

const (
	RuleTypePreference  RuleType = "preference"
	RuleTypeInstruction RuleType = "instruction"
	RuleTypeConstraint  RuleType = "constraint"
	RuleTypeGoal        RuleType = "goal"
)

// RuleRow is a standing instruction the context injector can optionally
// prepend ahead of the conscious block. Inactive rules are never evaluated.
type RuleRow struct {
	RuleID            string
	RuleText          string
	RuleType          RuleType
	Priority          int // 1-10
	Active            bool
	ContextConditions map[string]string
	Namespace         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MemoryRelationship links two memories the classifier or conscious analyzer
// judged related, e.g. a long-term memory promoted for a repeated reference,
// linked to the working-set short-term row promoted from it.
type MemoryRelationship struct {
	RelationshipID   string
	SourceMemoryID   string
	TargetMemoryID   string
	RelationshipType string
	Namespace        string
	CreatedAt        time.Time
}

// TimeWindow bounds a search by created_at.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// SearchFilters narrows a SearchQuery beyond free-text matching.
type SearchFilters struct {
	CategoryPrimary Category    // zero value means unconstrained
	ImportantOnly   bool        // importance_score >= 0.7
	TimeWindow      *TimeWindow // nil means unconstrained
}

// SearchQuery is the Search engine's input.
type SearchQuery struct {
	Namespace string
	Text      string
	Filters   SearchFilters
	Limit     int
}

// MemoryHit is one ranked search result.
type MemoryHit struct {
	MemoryID          string
	MemoryType        MemoryType
	Summary           string
	CategoryPrimary   Category
	ImportanceScore   float64
	CreatedAt         time.Time
	MatchedStrategies []string
	FinalScore        float64
}

// HealthReport surfaces store connectivity and capability without a full
// get_memory_stats scan.
type HealthReport struct {
	Connected     bool
	SchemaVersion int
	FTSAvailable  bool
}

// MemoryStats is the shape returned by Coordinator.GetMemoryStats: row
// counts per table, category distribution, and average importance.
type MemoryStats struct {
	ChatHistoryCount     int
	ShortTermCount       int
	LongTermCount        int
	RulesCount           int
	CategoryDistribution map[Category]int
	AverageImportance    float64
}

// Storer defines the interface for all memory-layer persistence. Every verb
// is namespace-scoped. SQLiteStore and PostgresStore are the two
// implementations.
type Storer interface {
	// PutChat records a chat exchange. Returns the assigned chat_id.
	PutChat(ctx context.Context, rec ChatRecord) (string, error)

	// PutMemory inserts a short-term or long-term row, selected by
	// row.RetentionType, and returns the assigned memory_id.
	PutMemory(ctx context.Context, row MemoryRow) (string, error)

	// PutEntities indexes the entities attached to a memory row.
	PutEntities(ctx context.Context, rows []EntityIndexRow) error

	// TouchMemory atomically increments access_count and bumps last_accessed.
	TouchMemory(ctx context.Context, memType MemoryType, memoryID string) error

	// ExpireShortTerm deletes short-term rows whose expires_at has passed,
	// cascading to their entity rows and FTS entries. Returns the count deleted.
	ExpireShortTerm(ctx context.Context, namespace string, now time.Time) (int, error)

	// Search runs the hybrid ranking strategy described by the query.
	Search(ctx context.Context, q SearchQuery) ([]MemoryHit, error)

	// ListShortTerm returns up to limit short-term rows for namespace.
	ListShortTerm(ctx context.Context, namespace string, limit int) ([]MemoryRow, error)

	// ListLongTerm returns up to limit long-term rows matching filters.
	ListLongTerm(ctx context.Context, namespace string, filters SearchFilters, limit int) ([]MemoryRow, error)

	// GetMemory fetches a single row by type and ID.
	GetMemory(ctx context.Context, memType MemoryType, memoryID string) (*MemoryRow, error)

	// DeleteMemory removes a row and cascades to its entities and FTS entry.
	DeleteMemory(ctx context.Context, memType MemoryType, memoryID string) error

	// GetEntitiesForMemory returns the entity rows attached to a memory.
	GetEntitiesForMemory(ctx context.Context, memType MemoryType, memoryID string) ([]EntityIndexRow, error)

	// ListEntities returns up to limit distinct (entity_type, entity_value)
	// pairs seen in namespace, most recently created first. Used to compile
	// a per-namespace entity dictionary for fallback classification and
	// planning.
	ListEntities(ctx context.Context, namespace string, limit int) ([]EntityIndexRow, error)

	// GetRules returns the rules surface rows for namespace.
	GetRules(ctx context.Context, namespace string, activeOnly bool) ([]RuleRow, error)

	// PutRule upserts a rule and returns its rule_id.
	PutRule(ctx context.Context, rule RuleRow) (string, error)

	// PutRelationship records a link between two memories.
	PutRelationship(ctx context.Context, rel MemoryRelationship) (string, error)

	// Health reports connectivity, schema version, and FTS availability.
	Health(ctx context.Context) (HealthReport, error)

	// GetMemoryStats returns aggregate counters for namespace.
	GetMemoryStats(ctx context.Context, namespace string) (MemoryStats, error)

	// Close releases the underlying connection(s).
	Close() error
}
