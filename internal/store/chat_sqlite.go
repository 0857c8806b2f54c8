package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/pkg/pool"
)

// PutChat records a chat exchange and returns the assigned chat_id.
func (s *SQLiteStore) PutChat(ctx context.Context, rec ChatRecord) (string, error) {
	if rec.ChatID == "" {
		rec.ChatID = uuid.NewString()
	}
	if rec.Namespace == "" {
		rec.Namespace = "default"
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(rec.Metadata); err != nil {
		return "", merr.New(merr.KindStorageFatal, "PutChat", fmt.Errorf("marshaling metadata: %w", err))
	}
	metaJSON := bytes.TrimRight(buf.Bytes(), "\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(ctx, s.maxRetries, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO chat_history
				(chat_id, user_input, ai_output, model, timestamp, session_id, namespace, tokens_used, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ChatID, rec.UserInput, rec.AIOutput, nullString(rec.Model),
			rec.Timestamp.Unix(), nullString(rec.SessionID), rec.Namespace, rec.TokensUsed, string(metaJSON))
		return execErr
	})
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutChat", err)
	}

	return rec.ChatID, nil
}
