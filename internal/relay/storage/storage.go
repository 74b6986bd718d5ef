// Package storage defines persistence contracts for relay state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict indicates a conditional update lost a concurrent race.
var ErrVersionConflict = errors.New("version conflict")

// Connection stores one registered peer session.
type Connection struct {
	SessionID   string
	ConnectedAt time.Time
	// Metadata carries opaque transport context needed to address the peer
	// on future deliveries.
	Metadata string
}

// ConnectionStore persists registered peer sessions.
type ConnectionStore interface {
	// PutConnection upserts a connection record. Registering the same
	// session id twice must not create a duplicate.
	PutConnection(ctx context.Context, connection Connection) error
	// DeleteConnection removes a connection record. Deleting an absent
	// session id is not an error.
	DeleteConnection(ctx context.Context, sessionID string) error
	// ScanConnections returns all connection records in unspecified order.
	ScanConnections(ctx context.Context) ([]Connection, error)
}

// UploadSession stores the in-progress reconstruction of one file.
type UploadSession struct {
	FileName      string
	FileType      string
	DeclaredSize  int64
	TotalChunks   int
	ReceivedCount int
	// Chunks maps a 0-based chunk index to its base64 payload.
	Chunks map[int]string
	// Version is the optimistic concurrency token; UpdateUploadSession
	// succeeds only when the stored row still carries Version-1.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UploadStore persists upload sessions keyed by file name.
type UploadStore interface {
	// PutUploadSession inserts or replaces a session. A later start for the
	// same file name wins.
	PutUploadSession(ctx context.Context, session UploadSession) error
	// UpdateUploadSession conditionally replaces a session and returns
	// ErrVersionConflict when another writer got there first.
	UpdateUploadSession(ctx context.Context, session UploadSession) error
	// GetUploadSession returns the session for fileName or ErrNotFound.
	GetUploadSession(ctx context.Context, fileName string) (UploadSession, error)
	// DeleteUploadSession removes the session for fileName.
	DeleteUploadSession(ctx context.Context, fileName string) error
}

// Object stores one completed upload.
type Object struct {
	Key         string
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// ObjectStore persists completed upload payloads.
type ObjectStore interface {
	PutObject(ctx context.Context, object Object) error
	GetObject(ctx context.Context, key string) (Object, error)
}
