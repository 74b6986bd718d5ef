package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

// PutConnection upserts one registered peer session.
func (s *Store) PutConnection(ctx context.Context, connection storage.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(connection.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO connections (session_id, connected_at, metadata)
		 VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   connected_at = excluded.connected_at,
		   metadata = excluded.metadata`,
		sessionID,
		toMillis(connection.ConnectedAt),
		connection.Metadata,
	)
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

// DeleteConnection removes one registered peer session. Absent ids are a no-op.
func (s *Store) DeleteConnection(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM connections WHERE session_id = ?`,
		sessionID,
	); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// ScanConnections returns every registered peer session.
func (s *Store) ScanConnections(ctx context.Context) ([]storage.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT session_id, connected_at, metadata FROM connections`,
	)
	if err != nil {
		return nil, fmt.Errorf("scan connections: %w", err)
	}
	defer rows.Close()

	var connections []storage.Connection
	for rows.Next() {
		var connection storage.Connection
		var connectedAt int64
		if err := rows.Scan(&connection.SessionID, &connectedAt, &connection.Metadata); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		connection.ConnectedAt = fromMillis(connectedAt)
		connections = append(connections, connection)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return connections, nil
}
