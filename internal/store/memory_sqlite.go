package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/memori/internal/merr"
)

// PutMemory inserts a short-term or long-term row depending on
// row.RetentionType and returns the assigned memory_id.
func (s *SQLiteStore) PutMemory(ctx context.Context, row MemoryRow) (string, error) {
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
		return "", merr.New(merr.KindStorageFatal, "PutMemory", fmt.Errorf("marshaling processed data: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if row.RetentionType == RetentionLongTerm || row.RetentionType == RetentionPermanent {
		err = withRetry(ctx, s.maxRetries, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO long_term_memory
					(memory_id, chat_id, processed_data_json, importance_score, novelty_score,
					 relevance_score, actionability_score, category_primary, retention_type,
					 namespace, created_at, access_count, last_accessed, searchable_content,
					 summary, classification_flags_json, is_permanent_context)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				row.MemoryID, nullString(row.ChatID), string(dataJSON),
				row.ImportanceScore, row.NoveltyScore, row.RelevanceScore, row.ActionabilityScore,
				string(row.CategoryPrimary), string(row.RetentionType), row.Namespace,
				row.CreatedAt.Unix(), row.AccessCount, nullTime(timeOrNil(row.LastAccessed)),
				row.SearchableContent, row.Summary, flagsJSON(row.ClassificationFlags),
				boolToInt(row.IsPermanentContext))
			return execErr
		})
	} else {
		err = withRetry(ctx, s.maxRetries, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO short_term_memory
					(memory_id, chat_id, processed_data_json, importance_score, category_primary,
					 retention_type, namespace, created_at, expires_at, access_count,
					 last_accessed, searchable_content, summary, is_permanent_context)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				row.MemoryID, nullString(row.ChatID), string(dataJSON), row.ImportanceScore,
				string(row.CategoryPrimary), string(row.RetentionType), row.Namespace,
				row.CreatedAt.Unix(), nullTime(row.ExpiresAt), row.AccessCount,
				nullTime(timeOrNil(row.LastAccessed)), row.SearchableContent, row.Summary,
				boolToInt(row.IsPermanentContext))
			return execErr
		})
	}
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutMemory", err)
	}

	return row.MemoryID, nil
}

// TouchMemory increments access_count and bumps last_accessed to now.
func (s *SQLiteStore) TouchMemory(ctx context.Context, memType MemoryType, memoryID string) error {
	table := tableFor(memType)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(ctx, s.maxRetries, func() error {
		_, execErr := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET access_count = access_count + 1, last_accessed = ?
			WHERE memory_id = ?`, table), time.Now().Unix(), memoryID)
		return execErr
	})
	if err != nil {
		return merr.New(merr.KindStorageTransient, "TouchMemory", err)
	}
	return nil
}

// ExpireShortTerm deletes short-term rows whose expires_at has passed.
func (s *SQLiteStore) ExpireShortTerm(ctx context.Context, namespace string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id FROM short_term_memory
		WHERE namespace = ? AND expires_at IS NOT NULL AND expires_at <= ? AND is_permanent_context = 0`,
		namespace, now.Unix())
	if err != nil {
		return 0, merr.New(merr.KindStorageTransient, "ExpireShortTerm", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, merr.New(merr.KindStorageFatal, "ExpireShortTerm", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_entities WHERE memory_id = ? AND memory_type = 'short_term'`, id); err != nil {
			return 0, merr.New(merr.KindStorageTransient, "ExpireShortTerm", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM short_term_memory WHERE memory_id = ?`, id); err != nil {
			return 0, merr.New(merr.KindStorageTransient, "ExpireShortTerm", err)
		}
	}

	return len(ids), nil
}

// ListShortTerm returns up to limit short-term rows for namespace, most
// recent first.
func (s *SQLiteStore) ListShortTerm(ctx context.Context, namespace string, limit int) ([]MemoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, chat_id, processed_data_json, importance_score, category_primary,
		       retention_type, namespace, created_at, expires_at, access_count, last_accessed,
		       searchable_content, summary, is_permanent_context
		FROM short_term_memory WHERE namespace = ? ORDER BY created_at DESC LIMIT ?`,
		namespace, limit)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListShortTerm", err)
	}
	defer rows.Close()

	var out []MemoryRow
	for rows.Next() {
		row, err := scanShortTerm(rows)
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListShortTerm", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// ListLongTerm returns up to limit long-term rows matching filters.
func (s *SQLiteStore) ListLongTerm(ctx context.Context, namespace string, filters SearchFilters, limit int) ([]MemoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT memory_id, chat_id, processed_data_json, importance_score, novelty_score,
		       relevance_score, actionability_score, category_primary, retention_type,
		       namespace, created_at, access_count, last_accessed, searchable_content,
		       summary, classification_flags_json, is_permanent_context
		FROM long_term_memory WHERE namespace = ?`
	args := []any{namespace}

	if filters.CategoryPrimary != "" {
		query += ` AND category_primary = ?`
		args = append(args, string(filters.CategoryPrimary))
	}
	if filters.ImportantOnly {
		query += ` AND importance_score >= 0.7`
	}
	if filters.TimeWindow != nil {
		query += ` AND created_at >= ? AND created_at <= ?`
		args = append(args, filters.TimeWindow.From.Unix(), filters.TimeWindow.To.Unix())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListLongTerm", err)
	}
	defer rows.Close()

	var out []MemoryRow
	for rows.Next() {
		row, err := scanLongTerm(rows)
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListLongTerm", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// GetMemory fetches a single row by type and ID.
func (s *SQLiteStore) GetMemory(ctx context.Context, memType MemoryType, memoryID string) (*MemoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if memType == MemoryTypeShortTerm {
		row := s.db.QueryRowContext(ctx, `
			SELECT memory_id, chat_id, processed_data_json, importance_score, category_primary,
			       retention_type, namespace, created_at, expires_at, access_count, last_accessed,
			       searchable_content, summary, is_permanent_context
			FROM short_term_memory WHERE memory_id = ?`, memoryID)
		m, err := scanShortTerm(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetMemory", err)
		}
		return &m, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, chat_id, processed_data_json, importance_score, novelty_score,
		       relevance_score, actionability_score, category_primary, retention_type,
		       namespace, created_at, access_count, last_accessed, searchable_content,
		       summary, classification_flags_json, is_permanent_context
		FROM long_term_memory WHERE memory_id = ?`, memoryID)
	m, err := scanLongTerm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.New(merr.KindStorageFatal, "GetMemory", err)
	}
	return &m, nil
}

// DeleteMemory removes a row and cascades to its entities and FTS entry.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, memType MemoryType, memoryID string) error {
	table := tableFor(memType)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(ctx, s.maxRetries, func() error {
		if _, execErr := s.db.ExecContext(ctx, `DELETE FROM memory_entities WHERE memory_id = ? AND memory_type = ?`,
			memoryID, string(memType)); execErr != nil {
			return execErr
		}
		_, execErr := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE memory_id = ?`, table), memoryID)
		return execErr
	})
	if err != nil {
		return merr.New(merr.KindStorageTransient, "DeleteMemory", err)
	}
	return nil
}

func tableFor(memType MemoryType) string {
	if memType == MemoryTypeShortTerm {
		return "short_term_memory"
	}
	return "long_term_memory"
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func flagsJSON(flags []ConsciousLabel) string {
	if len(flags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShortTerm(r rowScanner) (MemoryRow, error) {
	var (
		m          MemoryRow
		chatID     sql.NullString
		dataJSON   string
		expiresAt  sql.NullInt64
		lastAcc    sql.NullInt64
		createdAt  int64
		isPerm     int
	)
	err := r.Scan(&m.MemoryID, &chatID, &dataJSON, &m.ImportanceScore, &m.CategoryPrimary,
		&m.RetentionType, &m.Namespace, &createdAt, &expiresAt, &m.AccessCount, &lastAcc,
		&m.SearchableContent, &m.Summary, &isPerm)
	if err != nil {
		return m, err
	}
	m.Type = MemoryTypeShortTerm
	m.ChatID = chatID.String
	m.CreatedAt = time.Unix(createdAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		m.ExpiresAt = &t
	}
	if lastAcc.Valid {
		m.LastAccessed = time.Unix(lastAcc.Int64, 0)
	}
	m.IsPermanentContext = intToBool(isPerm)
	if err := json.Unmarshal([]byte(dataJSON), &m.ProcessedData); err != nil {
		return m, fmt.Errorf("unmarshaling processed data: %w", err)
	}
	return m, nil
}

func scanLongTerm(r rowScanner) (MemoryRow, error) {
	var (
		m         MemoryRow
		chatID    sql.NullString
		dataJSON  string
		lastAcc   sql.NullInt64
		createdAt int64
		flagsJSON sql.NullString
		isPerm    int
	)
	err := r.Scan(&m.MemoryID, &chatID, &dataJSON, &m.ImportanceScore, &m.NoveltyScore,
		&m.RelevanceScore, &m.ActionabilityScore, &m.CategoryPrimary, &m.RetentionType,
		&m.Namespace, &createdAt, &m.AccessCount, &lastAcc, &m.SearchableContent,
		&m.Summary, &flagsJSON, &isPerm)
	if err != nil {
		return m, err
	}
	m.Type = MemoryTypeLongTerm
	m.ChatID = chatID.String
	m.CreatedAt = time.Unix(createdAt, 0)
	if lastAcc.Valid {
		m.LastAccessed = time.Unix(lastAcc.Int64, 0)
	}
	m.IsPermanentContext = intToBool(isPerm)
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &m.ClassificationFlags); err != nil {
			return m, fmt.Errorf("unmarshaling classification flags: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(dataJSON), &m.ProcessedData); err != nil {
		return m, fmt.Errorf("unmarshaling processed data: %w", err)
	}
	return m, nil
}
