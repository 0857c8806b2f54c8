package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/memori/internal/merr"
)

// GetRules returns the rules surface rows for namespace, highest priority
// first. Only meaningful when memory.rules_enabled is set.
func (s *SQLiteStore) GetRules(ctx context.Context, namespace string, activeOnly bool) ([]RuleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT rule_id, rule_text, rule_type, priority, active, context_conditions_json,
		       namespace, created_at, updated_at
		FROM rules_memory WHERE namespace = ?`
	args := []any{namespace}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "GetRules", err)
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var (
			r           RuleRow
			conditions  string
			active      int
			createdAt   int64
			updatedAt   int64
		)
		if err := rows.Scan(&r.RuleID, &r.RuleText, &r.RuleType, &r.Priority, &active,
			&conditions, &r.Namespace, &createdAt, &updatedAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetRules", err)
		}
		r.Active = intToBool(active)
		r.CreatedAt = time.Unix(createdAt, 0)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		if conditions != "" {
			if err := json.Unmarshal([]byte(conditions), &r.ContextConditions); err != nil {
				return nil, merr.New(merr.KindStorageFatal, "GetRules", err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// PutRule upserts a rule and returns its rule_id.
func (s *SQLiteStore) PutRule(ctx context.Context, rule RuleRow) (string, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	err = withRetry(ctx, s.maxRetries, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO rules_memory
				(rule_id, rule_text, rule_type, priority, active, context_conditions_json,
				 namespace, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(rule_id) DO UPDATE SET
				rule_text = excluded.rule_text,
				rule_type = excluded.rule_type,
				priority = excluded.priority,
				active = excluded.active,
				context_conditions_json = excluded.context_conditions_json,
				updated_at = excluded.updated_at`,
			rule.RuleID, rule.RuleText, string(rule.RuleType), rule.Priority,
			boolToInt(rule.Active), string(conditionsJSON), rule.Namespace,
			rule.CreatedAt.Unix(), rule.UpdatedAt.Unix())
		return execErr
	})
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutRule", err)
	}
	return rule.RuleID, nil
}
