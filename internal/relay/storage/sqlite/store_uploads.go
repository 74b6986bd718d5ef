package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

func encodeChunks(chunks map[int]string) (string, error) {
	if len(chunks) == 0 {
		return "{}", nil
	}
	// JSON object keys must be strings; chunk indices are re-parsed on read.
	byKey := make(map[string]string, len(chunks))
	for index, data := range chunks {
		byKey[strconv.Itoa(index)] = data
	}
	encoded, err := json.Marshal(byKey)
	if err != nil {
		return "", fmt.Errorf("marshal chunks: %w", err)
	}
	return string(encoded), nil
}

func decodeChunks(value string) (map[int]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return map[int]string{}, nil
	}
	var byKey map[string]string
	if err := json.Unmarshal([]byte(value), &byKey); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	chunks := make(map[int]string, len(byKey))
	for key, data := range byKey {
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("parse chunk index %q: %w", key, err)
		}
		chunks[index] = data
	}
	return chunks, nil
}

func validateUploadSession(session storage.UploadSession) error {
	if strings.TrimSpace(session.FileName) == "" {
		return fmt.Errorf("file name is required")
	}
	if session.TotalChunks <= 0 {
		return fmt.Errorf("total chunks must be positive")
	}
	return nil
}

// PutUploadSession inserts or replaces an upload session. The last start for
// a file name wins.
func (s *Store) PutUploadSession(ctx context.Context, session storage.UploadSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateUploadSession(session); err != nil {
		return err
	}

	chunks, err := encodeChunks(session.Chunks)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO upload_sessions
		   (file_name, file_type, declared_size, total_chunks, received_count, chunks, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_name) DO UPDATE SET
		   file_type = excluded.file_type,
		   declared_size = excluded.declared_size,
		   total_chunks = excluded.total_chunks,
		   received_count = excluded.received_count,
		   chunks = excluded.chunks,
		   version = excluded.version,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		strings.TrimSpace(session.FileName),
		session.FileType,
		session.DeclaredSize,
		session.TotalChunks,
		session.ReceivedCount,
		chunks,
		session.Version,
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put upload session: %w", err)
	}
	return nil
}

// UpdateUploadSession conditionally replaces an upload session. The write
// succeeds only when the stored row still carries session.Version-1, so
// concurrent chunk arrivals for one file cannot lose updates.
func (s *Store) UpdateUploadSession(ctx context.Context, session storage.UploadSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateUploadSession(session); err != nil {
		return err
	}

	chunks, err := encodeChunks(session.Chunks)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE upload_sessions SET
		   file_type = ?,
		   declared_size = ?,
		   total_chunks = ?,
		   received_count = ?,
		   chunks = ?,
		   version = ?,
		   updated_at = ?
		 WHERE file_name = ? AND version = ?`,
		session.FileType,
		session.DeclaredSize,
		session.TotalChunks,
		session.ReceivedCount,
		chunks,
		session.Version,
		toMillis(session.UpdatedAt),
		strings.TrimSpace(session.FileName),
		session.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update upload session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update upload session rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// GetUploadSession returns the upload session for fileName.
func (s *Store) GetUploadSession(ctx context.Context, fileName string) (storage.UploadSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.UploadSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UploadSession{}, fmt.Errorf("storage is not configured")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return storage.UploadSession{}, fmt.Errorf("file name is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT file_name, file_type, declared_size, total_chunks, received_count, chunks, version, created_at, updated_at
		 FROM upload_sessions
		 WHERE file_name = ?`,
		fileName,
	)
	var session storage.UploadSession
	var chunksRaw string
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&session.FileName,
		&session.FileType,
		&session.DeclaredSize,
		&session.TotalChunks,
		&session.ReceivedCount,
		&chunksRaw,
		&session.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UploadSession{}, storage.ErrNotFound
		}
		return storage.UploadSession{}, fmt.Errorf("get upload session: %w", err)
	}
	session.Chunks, err = decodeChunks(chunksRaw)
	if err != nil {
		return storage.UploadSession{}, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

// DeleteUploadSession removes the upload session for fileName.
func (s *Store) DeleteUploadSession(ctx context.Context, fileName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return fmt.Errorf("file name is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM upload_sessions WHERE file_name = ?`,
		fileName,
	); err != nil {
		return fmt.Errorf("delete upload session: %w", err)
	}
	return nil
}
