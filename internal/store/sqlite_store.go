package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/cenkalti/backoff/v5"

	"github.com/kittclouds/memori/internal/merr"
)

// schemaVersion is validated at open; a mismatch is StorageFatal.
const schemaVersion = 2

// schema creates every table in §3's data model plus the FTS5 virtual table
// and its maintenance triggers. Namespace appears on every table and every
// index a query verb can filter on.
const schema = `
CREATE TABLE IF NOT EXISTS _schema_version (
    version INTEGER NOT NULL,
    applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_history (
    chat_id TEXT PRIMARY KEY,
    user_input TEXT NOT NULL,
    ai_output TEXT NOT NULL,
    model TEXT,
    timestamp INTEGER NOT NULL,
    session_id TEXT,
    namespace TEXT NOT NULL DEFAULT 'default',
    tokens_used INTEGER NOT NULL DEFAULT 0,
    metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_chat_history_namespace ON chat_history(namespace, timestamp);
CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id);

CREATE TABLE IF NOT EXISTS short_term_memory (
    memory_id TEXT PRIMARY KEY,
    chat_id TEXT,
    processed_data_json TEXT NOT NULL,
    importance_score REAL NOT NULL DEFAULT 0,
    category_primary TEXT NOT NULL,
    retention_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL,
    expires_at INTEGER,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER,
    searchable_content TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    is_permanent_context INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_stm_namespace ON short_term_memory(namespace);
CREATE INDEX IF NOT EXISTS idx_stm_expires ON short_term_memory(expires_at);
CREATE INDEX IF NOT EXISTS idx_stm_category ON short_term_memory(category_primary);

CREATE TABLE IF NOT EXISTS long_term_memory (
    memory_id TEXT PRIMARY KEY,
    chat_id TEXT,
    processed_data_json TEXT NOT NULL,
    importance_score REAL NOT NULL DEFAULT 0,
    novelty_score REAL NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 0,
    actionability_score REAL NOT NULL DEFAULT 0,
    category_primary TEXT NOT NULL,
    retention_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER,
    searchable_content TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    classification_flags_json TEXT,
    is_permanent_context INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ltm_namespace ON long_term_memory(namespace);
CREATE INDEX IF NOT EXISTS idx_ltm_category ON long_term_memory(category_primary);
CREATE INDEX IF NOT EXISTS idx_ltm_importance ON long_term_memory(importance_score);

CREATE TABLE IF NOT EXISTS rules_memory (
    rule_id TEXT PRIMARY KEY,
    rule_text TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 5,
    active INTEGER NOT NULL DEFAULT 1,
    context_conditions_json TEXT,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_namespace ON rules_memory(namespace, active);

CREATE TABLE IF NOT EXISTS memory_entities (
    entity_id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL,
    memory_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_value TEXT NOT NULL,
    relevance_score REAL NOT NULL DEFAULT 0,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_entities_value ON memory_entities(entity_value);

CREATE TABLE IF NOT EXISTS memory_relationships (
    relationship_id TEXT PRIMARY KEY,
    source_memory_id TEXT NOT NULL,
    target_memory_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL,
    namespace TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON memory_relationships(source_memory_id);
`

// ftsSchema is created separately so NewSQLiteStoreWithDSN can probe FTS5
// availability: the extension ships in the default ncruces/go-sqlite3 build,
// but a defensive probe guards against a non-FTS5 build reaching this code.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memory_search_fts USING fts5(
    memory_id UNINDEXED,
    memory_type UNINDEXED,
    namespace UNINDEXED,
    searchable_content,
    summary,
    category_primary UNINDEXED
);

CREATE TRIGGER IF NOT EXISTS stm_fts_insert AFTER INSERT ON short_term_memory BEGIN
    INSERT INTO memory_search_fts(memory_id, memory_type, namespace, searchable_content, summary, category_primary)
    VALUES (new.memory_id, 'short_term', new.namespace, new.searchable_content, new.summary, new.category_primary);
END;

CREATE TRIGGER IF NOT EXISTS stm_fts_delete AFTER DELETE ON short_term_memory BEGIN
    DELETE FROM memory_search_fts WHERE memory_id = old.memory_id AND memory_type = 'short_term';
END;

CREATE TRIGGER IF NOT EXISTS ltm_fts_insert AFTER INSERT ON long_term_memory BEGIN
    INSERT INTO memory_search_fts(memory_id, memory_type, namespace, searchable_content, summary, category_primary)
    VALUES (new.memory_id, 'long_term', new.namespace, new.searchable_content, new.summary, new.category_primary);
END;

CREATE TRIGGER IF NOT EXISTS ltm_fts_delete AFTER DELETE ON long_term_memory BEGIN
    DELETE FROM memory_search_fts WHERE memory_id = old.memory_id AND memory_type = 'long_term';
END;
`

// SQLiteStore is the embedded single-file backend. Writers are serialized
// through mu; readers proceed concurrently against the underlying
// *sql.DB's own connection handling.
type SQLiteStore struct {
	mu           sync.RWMutex
	db           *sql.DB
	ftsAvailable bool
	maxRetries   int
}

// NewSQLiteStore opens an in-memory store, handy for tests and short-lived
// processes.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:", 3)
}

// NewSQLiteStoreWithDSN opens a store at dsn (":memory:" or a file path) and
// creates the schema if absent. maxRetries bounds the exponential backoff
// applied to transient write failures.
func NewSQLiteStoreWithDSN(dsn string, maxRetries int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, merr.New(merr.KindStorageFatal, "NewSQLiteStoreWithDSN", fmt.Errorf("opening database: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, merr.New(merr.KindStorageFatal, "NewSQLiteStoreWithDSN", fmt.Errorf("creating schema: %w", err))
	}

	s := &SQLiteStore{db: db, maxRetries: maxRetries}

	if _, err := db.Exec(ftsSchema); err != nil {
		// Defensive portability path: a non-FTS5 SQLite build degrades to
		// LIKE-based scans rather than failing the whole store.
		s.ftsAvailable = false
	} else {
		s.ftsAvailable = true
	}

	if err := s.ensureSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) ensureSchemaVersion() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM _schema_version`).Scan(&count); err != nil {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
	}
	if count == 0 {
		_, err := s.db.Exec(`INSERT INTO _schema_version (version, applied_at) VALUES (?, ?)`,
			schemaVersion, time.Now().Unix())
		if err != nil {
			return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT version FROM _schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&version); err != nil {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion", err)
	}
	if version != schemaVersion {
		return merr.New(merr.KindStorageFatal, "ensureSchemaVersion",
			fmt.Errorf("schema version mismatch: store has %d, binary expects %d", version, schemaVersion))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health reports connectivity, schema version, and FTS availability.
func (s *SQLiteStore) Health(ctx context.Context) (HealthReport, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return HealthReport{Connected: false}, merr.New(merr.KindStorageFatal, "Health", err)
	}
	return HealthReport{Connected: true, SchemaVersion: schemaVersion, FTSAvailable: s.ftsAvailable}, nil
}

// withRetry runs fn and retries it on transient failures with exponential
// backoff, up to maxRetries retries after the first attempt (NewSQLiteStore
// and the Coordinator pass 3, spec.md §4.1's default).
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransient(err) || attempt > maxRetries {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithMaxTries(uint(maxRetries+1)))
	return err
}

// isTransient classifies SQLite busy/locked errors as retryable; everything
// else (constraint violations, schema errors) is not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool { return i != 0 }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
