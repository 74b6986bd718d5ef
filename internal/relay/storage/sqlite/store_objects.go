package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

// PutObject persists one completed upload payload.
func (s *Store) PutObject(ctx context.Context, object storage.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key := strings.TrimSpace(object.Key)
	if key == "" {
		return fmt.Errorf("object key is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO objects (key, content_type, body, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   content_type = excluded.content_type,
		   body = excluded.body,
		   created_at = excluded.created_at`,
		key,
		object.ContentType,
		object.Body,
		toMillis(object.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// GetObject returns the stored payload for key.
func (s *Store) GetObject(ctx context.Context, key string) (storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return storage.Object{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Object{}, fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.Object{}, fmt.Errorf("object key is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT key, content_type, body, created_at FROM objects WHERE key = ?`,
		key,
	)
	var object storage.Object
	var createdAt int64
	err := row.Scan(&object.Key, &object.ContentType, &object.Body, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Object{}, storage.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("get object: %w", err)
	}
	object.CreatedAt = fromMillis(createdAt)
	return object, nil
}
