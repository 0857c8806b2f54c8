package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/pkg/implicitmatcher"
)

// postgresSchema mirrors schema's tables, substituting a tsvector/GIN index
// for SQLite's FTS5 virtual table.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS _schema_version (
    version INT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_history (
    chat_id TEXT PRIMARY KEY,
    user_input TEXT NOT NULL,
    ai_output TEXT NOT NULL,
    model TEXT,
    timestamp TIMESTAMPTZ NOT NULL,
    session_id TEXT,
    namespace TEXT NOT NULL DEFAULT 'default',
    tokens_used INT NOT NULL DEFAULT 0,
    metadata_json JSONB
);
CREATE INDEX IF NOT EXISTS idx_chat_history_namespace ON chat_history(namespace, timestamp);

CREATE TABLE IF NOT EXISTS short_term_memory (
    memory_id TEXT PRIMARY KEY,
    chat_id TEXT,
    processed_data_json JSONB NOT NULL,
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    category_primary TEXT NOT NULL,
    retention_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ,
    access_count INT NOT NULL DEFAULT 0,
    last_accessed TIMESTAMPTZ,
    searchable_content TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    is_permanent_context BOOLEAN NOT NULL DEFAULT false,
    search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', searchable_content || ' ' || summary)) STORED
);
CREATE INDEX IF NOT EXISTS idx_stm_namespace ON short_term_memory(namespace);
CREATE INDEX IF NOT EXISTS idx_stm_expires ON short_term_memory(expires_at);
CREATE INDEX IF NOT EXISTS idx_stm_search ON short_term_memory USING GIN(search_vector);

CREATE TABLE IF NOT EXISTS long_term_memory (
    memory_id TEXT PRIMARY KEY,
    chat_id TEXT,
    processed_data_json JSONB NOT NULL,
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    novelty_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    actionability_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    category_primary TEXT NOT NULL,
    retention_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL,
    access_count INT NOT NULL DEFAULT 0,
    last_accessed TIMESTAMPTZ,
    searchable_content TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    classification_flags_json JSONB,
    is_permanent_context BOOLEAN NOT NULL DEFAULT false,
    search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', searchable_content || ' ' || summary)) STORED
);
CREATE INDEX IF NOT EXISTS idx_ltm_namespace ON long_term_memory(namespace);
CREATE INDEX IF NOT EXISTS idx_ltm_search ON long_term_memory USING GIN(search_vector);

CREATE TABLE IF NOT EXISTS rules_memory (
    rule_id TEXT PRIMARY KEY,
    rule_text TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    priority INT NOT NULL DEFAULT 5,
    active BOOLEAN NOT NULL DEFAULT true,
    context_conditions_json JSONB,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_namespace ON rules_memory(namespace, active);

CREATE TABLE IF NOT EXISTS memory_entities (
    entity_id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    memory_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_value TEXT NOT NULL,
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_entities_value ON memory_entities(entity_value);

CREATE TABLE IF NOT EXISTS memory_relationships (
    relationship_id TEXT PRIMARY KEY,
    source_memory_id TEXT NOT NULL,
    target_memory_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the client-server backend, selected when
// database.connection_string points at a postgres:// DSN.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the schema if absent.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, merr.New(merr.KindConfig, "NewPostgresStore", fmt.Errorf("parsing dsn: %w", err))
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, merr.New(merr.KindStorageFatal, "NewPostgresStore", fmt.Errorf("connecting: %w", err))
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, merr.New(merr.KindStorageFatal, "NewPostgresStore", fmt.Errorf("creating schema: %w", err))
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchemaVersion(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchemaVersion(ctx context.Context) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM _schema_version`).Scan(&count); err != nil {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
	}
	if count == 0 {
		_, err := s.pool.Exec(ctx, `INSERT INTO _schema_version (version, applied_at) VALUES ($1, $2)`,
			schemaVersion, time.Now())
		if err != nil {
			return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
		}
		return nil
	}
	var version int
	if err := s.pool.QueryRow(ctx, `SELECT version FROM _schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&version); err != nil {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
	}
	if version != schemaVersion {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion",
			fmt.Errorf("schema version mismatch: store has %d, binary expects %d", version, schemaVersion))
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) (HealthReport, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return HealthReport{Connected: false}, merr.New(merr.KindStorageFatal, "Health", err)
	}
	return HealthReport{Connected: true, SchemaVersion: schemaVersion, FTSAvailable: true}, nil
}

func (s *PostgresStore) PutChat(ctx context.Context, rec ChatRecord) (string, error) {
	if rec.ChatID == "" {
		rec.ChatID = uuid.NewString()
	}
	if rec.Namespace == "" {
		rec.Namespace = "default"
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", merr.New(merr.KindStorageFatal, "PutChat", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_history (chat_id, user_input, ai_output, model, timestamp, session_id, namespace, tokens_used, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ChatID, rec.UserInput, rec.AIOutput, rec.Model, rec.Timestamp, rec.SessionID, rec.Namespace, rec.TokensUsed, metaJSON)
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutChat", err)
	}
	return rec.ChatID, nil
}

func (s *PostgresStore) PutMemory(ctx context.Context, row MemoryRow) (string, error) {
	if row.MemoryID == "" {
		row.MemoryID = uuid.NewString()
	}
	if row.Namespace == "" {
		row.Namespace = "default"
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	dataJSON, err := json.Marshal(row.ProcessedData)
	if err != nil {
		return "", merr.New(merr.KindStorageFatal, "PutMemory", err)
	}

	if row.RetentionType == RetentionLongTerm || row.RetentionType == RetentionPermanent {
		flagsJSON, _ := json.Marshal(row.ClassificationFlags)
		_, err = s.pool.Exec(ctx, `
			INSERT INTO long_term_memory
				(memory_id, chat_id, processed_data_json, importance_score, novelty_score,
				 relevance_score, actionability_score, category_primary, retention_type,
				 namespace, created_at, access_count, last_accessed, searchable_content,
				 summary, classification_flags_json, is_permanent_context)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			row.MemoryID, row.ChatID, dataJSON, row.ImportanceScore, row.NoveltyScore,
			row.RelevanceScore, row.ActionabilityScore, string(row.CategoryPrimary), string(row.RetentionType),
			row.Namespace, row.CreatedAt, row.AccessCount, nullableTime(row.LastAccessed), row.SearchableContent,
			row.Summary, flagsJSON, row.IsPermanentContext)
	} else {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO short_term_memory
				(memory_id, chat_id, processed_data_json, importance_score, category_primary,
				 retention_type, namespace, created_at, expires_at, access_count, last_accessed,
				 searchable_content, summary, is_permanent_context)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			row.MemoryID, row.ChatID, dataJSON, row.ImportanceScore, string(row.CategoryPrimary),
			string(row.RetentionType), row.Namespace, row.CreatedAt, row.ExpiresAt, row.AccessCount,
			nullableTime(row.LastAccessed), row.SearchableContent, row.Summary, row.IsPermanentContext)
	}
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutMemory", err)
	}
	return row.MemoryID, nil
}

func (s *PostgresStore) PutEntities(ctx context.Context, rows []EntityIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		if row.EntityID == "" {
			row.EntityID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		batch.Queue(`
			INSERT INTO memory_entities (entity_id, memory_id, memory_type, entity_type, entity_value, relevance_score, namespace, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			row.EntityID, row.MemoryID, string(row.MemoryType), row.EntityType, row.EntityValue,
			row.RelevanceScore, row.Namespace, row.CreatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return merr.New(merr.KindStorageTransient, "PutEntities", err)
		}
	}
	return nil
}

func (s *PostgresStore) TouchMemory(ctx context.Context, memType MemoryType, memoryID string) error {
	table := tableFor(memType)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET access_count = access_count + 1, last_accessed = $1 WHERE memory_id = $2`, table),
		time.Now(), memoryID)
	if err != nil {
		return merr.New(merr.KindStorageTransient, "TouchMemory", err)
	}
	return nil
}

func (s *PostgresStore) ExpireShortTerm(ctx context.Context, namespace string, now time.Time) (int, error) {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM memory_entities
		WHERE memory_type = 'short_term' AND memory_id IN (
			SELECT memory_id FROM short_term_memory
			WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at <= $2 AND is_permanent_context = false)`,
		namespace, now); err != nil {
		return 0, merr.New(merr.KindStorageTransient, "ExpireShortTerm", err)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM short_term_memory
		WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at <= $2 AND is_permanent_context = false`,
		namespace, now)
	if err != nil {
		return 0, merr.New(merr.KindStorageTransient, "ExpireShortTerm", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListShortTerm(ctx context.Context, namespace string, limit int) ([]MemoryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, chat_id, processed_data_json, importance_score, category_primary,
		       retention_type, namespace, created_at, expires_at, access_count, last_accessed,
		       searchable_content, summary, is_permanent_context
		FROM short_term_memory WHERE namespace = $1 ORDER BY created_at DESC LIMIT $2`, namespace, limit)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListShortTerm", err)
	}
	defer rows.Close()

	var out []MemoryRow
	for rows.Next() {
		m, err := scanShortTermPG(rows)
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListShortTerm", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) ListLongTerm(ctx context.Context, namespace string, filters SearchFilters, limit int) ([]MemoryRow, error) {
	query := `
		SELECT memory_id, chat_id, processed_data_json, importance_score, novelty_score,
		       relevance_score, actionability_score, category_primary, retention_type,
		       namespace, created_at, access_count, last_accessed, searchable_content,
		       summary, classification_flags_json, is_permanent_context
		FROM long_term_memory WHERE namespace = $1`
	args := []any{namespace}
	n := 1
	if filters.CategoryPrimary != "" {
		n++
		query += fmt.Sprintf(` AND category_primary = $%d`, n)
		args = append(args, string(filters.CategoryPrimary))
	}
	if filters.ImportantOnly {
		query += ` AND importance_score >= 0.7`
	}
	if filters.TimeWindow != nil {
		query += fmt.Sprintf(` AND created_at >= $%d AND created_at <= $%d`, n+1, n+2)
		n += 2
		args = append(args, filters.TimeWindow.From, filters.TimeWindow.To)
	}
	n++
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, n)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListLongTerm", err)
	}
	defer rows.Close()

	var out []MemoryRow
	for rows.Next() {
		m, err := scanLongTermPG(rows)
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListLongTerm", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, memType MemoryType, memoryID string) (*MemoryRow, error) {
	if memType == MemoryTypeShortTerm {
		row := s.pool.QueryRow(ctx, `
			SELECT memory_id, chat_id, processed_data_json, importance_score, category_primary,
			       retention_type, namespace, created_at, expires_at, access_count, last_accessed,
			       searchable_content, summary, is_permanent_context
			FROM short_term_memory WHERE memory_id = $1`, memoryID)
		m, err := scanShortTermPG(row)
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetMemory", err)
		}
		return &m, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT memory_id, chat_id, processed_data_json, importance_score, novelty_score,
		       relevance_score, actionability_score, category_primary, retention_type,
		       namespace, created_at, access_count, last_accessed, searchable_content,
		       summary, classification_flags_json, is_permanent_context
		FROM long_term_memory WHERE memory_id = $1`, memoryID)
	m, err := scanLongTermPG(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.New(merr.KindStorageFatal, "GetMemory", err)
	}
	return &m, nil
}

func (s *PostgresStore) DeleteMemory(ctx context.Context, memType MemoryType, memoryID string) error {
	table := tableFor(memType)
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM memory_entities WHERE memory_id = $1 AND memory_type = $2`, memoryID, string(memType))
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE memory_id = $1`, table), memoryID)
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	if _, err := br.Exec(); err != nil {
		return merr.New(merr.KindStorageTransient, "DeleteMemory", err)
	}
	if _, err := br.Exec(); err != nil {
		return merr.New(merr.KindStorageTransient, "DeleteMemory", err)
	}
	return nil
}

func (s *PostgresStore) GetEntitiesForMemory(ctx context.Context, memType MemoryType, memoryID string) ([]EntityIndexRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, memory_id, memory_type, entity_type, entity_value, relevance_score, namespace, created_at
		FROM memory_entities WHERE memory_id = $1 AND memory_type = $2`, memoryID, string(memType))
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "GetEntitiesForMemory", err)
	}
	defer rows.Close()

	var out []EntityIndexRow
	for rows.Next() {
		var e EntityIndexRow
		var memTypeStr string
		if err := rows.Scan(&e.EntityID, &e.MemoryID, &memTypeStr, &e.EntityType, &e.EntityValue,
			&e.RelevanceScore, &e.Namespace, &e.CreatedAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetEntitiesForMemory", err)
		}
		e.MemoryType = MemoryType(memTypeStr)
		out = append(out, e)
	}
	return out, nil
}

// ListEntities returns up to limit distinct entity_type/entity_value pairs
// seen in namespace, most recently created first.
func (s *PostgresStore) ListEntities(ctx context.Context, namespace string, limit int) ([]EntityIndexRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_type, entity_value, MAX(relevance_score), MAX(created_at)
		FROM memory_entities
		WHERE namespace = $1
		GROUP BY entity_type, entity_value
		ORDER BY MAX(created_at) DESC
		LIMIT $2`, namespace, limit)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListEntities", err)
	}
	defer rows.Close()

	var out []EntityIndexRow
	for rows.Next() {
		var e EntityIndexRow
		if err := rows.Scan(&e.EntityType, &e.EntityValue, &e.RelevanceScore, &e.CreatedAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListEntities", err)
		}
		e.Namespace = namespace
		out = append(out, e)
	}
	return out, nil
}

func (s *PostgresStore) GetRules(ctx context.Context, namespace string, activeOnly bool) ([]RuleRow, error) {
	query := `
		SELECT rule_id, rule_text, rule_type, priority, active, context_conditions_json, namespace, created_at, updated_at
		FROM rules_memory WHERE namespace = $1`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY priority DESC, created_at DESC`

	rows, err := s.pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "GetRules", err)
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var r RuleRow
		var conditions []byte
		if err := rows.Scan(&r.RuleID, &r.RuleText, &r.RuleType, &r.Priority, &r.Active,
			&conditions, &r.Namespace, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetRules", err)
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &r.ContextConditions); err != nil {
				return nil, merr.New(merr.KindStorageFatal, "GetRules", err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) PutRule(ctx context.Context, rule RuleRow) (string, error) {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	if rule.Namespace == "" {
		rule.Namespace = "default"
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	conditionsJSON, err := json.Marshal(rule.ContextConditions)
	if err != nil {
		return "", merr.New(merr.KindStorageFatal, "PutRule", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rules_memory (rule_id, rule_text, rule_type, priority, active, context_conditions_json, namespace, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (rule_id) DO UPDATE SET
			rule_text = excluded.rule_text, rule_type = excluded.rule_type, priority = excluded.priority,
			active = excluded.active, context_conditions_json = excluded.context_conditions_json, updated_at = excluded.updated_at`,
		rule.RuleID, rule.RuleText, string(rule.RuleType), rule.Priority, rule.Active, conditionsJSON,
		rule.Namespace, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutRule", err)
	}
	return rule.RuleID, nil
}

func (s *PostgresStore) PutRelationship(ctx context.Context, rel MemoryRelationship) (string, error) {
	if rel.RelationshipID == "" {
		rel.RelationshipID = uuid.NewString()
	}
	if rel.Namespace == "" {
		rel.Namespace = "default"
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_relationships (relationship_id, source_memory_id, target_memory_id, relationship_type, namespace, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rel.RelationshipID, rel.SourceMemoryID, rel.TargetMemoryID, rel.RelationshipType, rel.Namespace, rel.CreatedAt)
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutRelationship", err)
	}
	return rel.RelationshipID, nil
}

func (s *PostgresStore) GetMemoryStats(ctx context.Context, namespace string) (MemoryStats, error) {
	var stats MemoryStats
	stats.CategoryDistribution = map[Category]int{}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_history WHERE namespace = $1`, namespace).Scan(&stats.ChatHistoryCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM short_term_memory WHERE namespace = $1`, namespace).Scan(&stats.ShortTermCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM long_term_memory WHERE namespace = $1`, namespace).Scan(&stats.LongTermCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rules_memory WHERE namespace = $1`, namespace).Scan(&stats.RulesCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category_primary, COUNT(*) FROM short_term_memory WHERE namespace = $1 GROUP BY category_primary
		UNION ALL
		SELECT category_primary, COUNT(*) FROM long_term_memory WHERE namespace = $1 GROUP BY category_primary`, namespace)
	if err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			rows.Close()
			return stats, merr.New(merr.KindStorageFatal, "GetMemoryStats", err)
		}
		stats.CategoryDistribution[Category(cat)] += count
	}
	rows.Close()

	var avg *float64
	if err := s.pool.QueryRow(ctx, `SELECT AVG(importance_score) FROM long_term_memory WHERE namespace = $1`, namespace).Scan(&avg); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if avg != nil {
		stats.AverageImportance = *avg
	}
	return stats, nil
}

// Search mirrors SQLiteStore.Search's hybrid-ranking strategy, substituting
// a tsvector/GIN full-text query for FTS5.
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]MemoryHit, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	candidates := map[string]*candidate{}

	if strings.TrimSpace(q.Text) != "" {
		if err := s.searchFullText(ctx, q, candidates); err != nil {
			return nil, merr.New(merr.KindStorageTransient, "Search", err)
		}
	}
	if err := s.searchEntities(ctx, q, candidates); err != nil {
		return nil, merr.New(merr.KindStorageTransient, "Search", err)
	}

	now := time.Now()
	hits := make([]MemoryHit, 0, len(candidates))
	for _, c := range candidates {
		if !passesFilters(c.hit, q.Filters) {
			continue
		}
		best := 0.0
		strategies := make([]string, 0, len(c.strategies))
		for name, score := range c.strategies {
			strategies = append(strategies, name)
			if score > best {
				best = score
			}
		}
		sort.Strings(strategies)
		c.hit.MatchedStrategies = strategies
		c.hit.FinalScore = best*0.6 + c.hit.ImportanceScore*0.3 + recencyNorm(c.hit.CreatedAt, now)*0.1
		hits = append(hits, c.hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].FinalScore != hits[j].FinalScore {
			return hits[i].FinalScore > hits[j].FinalScore
		}
		if hits[i].ImportanceScore != hits[j].ImportanceScore {
			return hits[i].ImportanceScore > hits[j].ImportanceScore
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})

	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *PostgresStore) searchFullText(ctx context.Context, q SearchQuery, candidates map[string]*candidate) error {
	for _, memType := range []MemoryType{MemoryTypeShortTerm, MemoryTypeLongTerm} {
		table := tableFor(memType)
		query := fmt.Sprintf(`
			SELECT memory_id, ts_rank(search_vector, websearch_to_tsquery('english', $1)) AS rank
			FROM %s
			WHERE namespace = $2 AND search_vector @@ websearch_to_tsquery('english', $1)
			ORDER BY rank DESC LIMIT 100`, table)
		rows, err := s.pool.Query(ctx, query, q.Text, q.Namespace)
		if err != nil {
			return err
		}
		for rows.Next() {
			var memoryID string
			var rank float64
			if err := rows.Scan(&memoryID, &rank); err != nil {
				rows.Close()
				return err
			}
			score := rank
			if score > 1 {
				score = 1
			}
			if err := s.loadCandidate(ctx, memType, memoryID, q.Namespace, candidates, "fulltext", score); err != nil {
				continue
			}
		}
		rows.Close()
	}
	return nil
}

func (s *PostgresStore) searchEntities(ctx context.Context, q SearchQuery, candidates map[string]*candidate) error {
	tokens := implicitmatcher.TokenizeNorm(q.Text)
	for _, tok := range tokens {
		rows, err := s.pool.Query(ctx, `
			SELECT memory_id, memory_type, relevance_score FROM memory_entities
			WHERE namespace = $1 AND (entity_value = $2 OR entity_value LIKE $3) LIMIT 50`,
			q.Namespace, tok, tok+"%")
		if err != nil {
			return err
		}
		for rows.Next() {
			var memoryID, memType string
			var relevance float64
			if err := rows.Scan(&memoryID, &memType, &relevance); err != nil {
				rows.Close()
				return err
			}
			if err := s.loadCandidate(ctx, MemoryType(memType), memoryID, q.Namespace, candidates, "entity", relevance); err != nil {
				continue
			}
		}
		rows.Close()
	}
	return nil
}

func (s *PostgresStore) loadCandidate(ctx context.Context, memType MemoryType, memoryID, namespace string, candidates map[string]*candidate, strategy string, score float64) error {
	key := string(memType) + ":" + memoryID
	if c, ok := candidates[key]; ok {
		if existing, ok := c.strategies[strategy]; !ok || score > existing {
			c.strategies[strategy] = score
		}
		return nil
	}

	row, err := s.GetMemory(ctx, memType, memoryID)
	if err != nil {
		return err
	}
	if row == nil || row.Namespace != namespace {
		return nil
	}
	candidates[key] = &candidate{
		hit: MemoryHit{
			MemoryID:        row.MemoryID,
			MemoryType:      row.Type,
			Summary:         row.Summary,
			CategoryPrimary: row.CategoryPrimary,
			ImportanceScore: row.ImportanceScore,
			CreatedAt:       row.CreatedAt,
		},
		strategies: map[string]float64{strategy: score},
	}
	return nil
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanShortTermPG(r pgRowScanner) (MemoryRow, error) {
	var (
		m         MemoryRow
		chatID    *string
		dataJSON  []byte
		expiresAt *time.Time
		lastAcc   *time.Time
	)
	err := r.Scan(&m.MemoryID, &chatID, &dataJSON, &m.ImportanceScore, &m.CategoryPrimary,
		&m.RetentionType, &m.Namespace, &m.CreatedAt, &expiresAt, &m.AccessCount, &lastAcc,
		&m.SearchableContent, &m.Summary, &m.IsPermanentContext)
	if err != nil {
		return m, err
	}
	m.Type = MemoryTypeShortTerm
	if chatID != nil {
		m.ChatID = *chatID
	}
	m.ExpiresAt = expiresAt
	if lastAcc != nil {
		m.LastAccessed = *lastAcc
	}
	if err := json.Unmarshal(dataJSON, &m.ProcessedData); err != nil {
		return m, fmt.Errorf("unmarshaling processed data: %w", err)
	}
	return m, nil
}

func scanLongTermPG(r pgRowScanner) (MemoryRow, error) {
	var (
		m         MemoryRow
		chatID    *string
		dataJSON  []byte
		lastAcc   *time.Time
		flags     []byte
	)
	err := r.Scan(&m.MemoryID, &chatID, &dataJSON, &m.ImportanceScore, &m.NoveltyScore,
		&m.RelevanceScore, &m.ActionabilityScore, &m.CategoryPrimary, &m.RetentionType,
		&m.Namespace, &m.CreatedAt, &m.AccessCount, &lastAcc, &m.SearchableContent,
		&m.Summary, &flags, &m.IsPermanentContext)
	if err != nil {
		return m, err
	}
	m.Type = MemoryTypeLongTerm
	if chatID != nil {
		m.ChatID = *chatID
	}
	if lastAcc != nil {
		m.LastAccessed = *lastAcc
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &m.ClassificationFlags); err != nil {
			return m, fmt.Errorf("unmarshaling classification flags: %w", err)
		}
	}
	if err := json.Unmarshal(dataJSON, &m.ProcessedData); err != nil {
		return m, fmt.Errorf("unmarshaling processed data: %w", err)
	}
	return m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
