// Package registry tracks which peer sessions are currently connected.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

// Registry is the durable mapping from session id to peer metadata. It
// outlives any single transport process.
type Registry struct {
	store storage.ConnectionStore
	now   func() time.Time
}

// New creates a Registry over the given connection store.
func New(store storage.ConnectionStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// NewWithClock creates a Registry with an explicit clock for tests.
func NewWithClock(store storage.ConnectionStore, now func() time.Time) *Registry {
	return &Registry{store: store, now: now}
}

// Register upserts a session. Registering an id twice refreshes its record
// instead of duplicating it.
func (r *Registry) Register(ctx context.Context, sessionID string, metadata string) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("registry is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	err := r.store.PutConnection(ctx, storage.Connection{
		SessionID:   sessionID,
		ConnectedAt: r.now().UTC(),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("register session %s: %w", sessionID, err)
	}
	return nil
}

// Unregister removes a session. Unregistering an absent or never-registered
// id is not an error.
func (r *Registry) Unregister(ctx context.Context, sessionID string) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("registry is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	if err := r.store.DeleteConnection(ctx, sessionID); err != nil {
		return fmt.Errorf("unregister session %s: %w", sessionID, err)
	}
	return nil
}

// ListActive returns the ids of every registered session. Order carries no
// meaning; the result reflects all registrations committed before the call.
func (r *Registry) ListActive(ctx context.Context) ([]string, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("registry is not configured")
	}

	connections, err := r.store.ScanConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	sessionIDs := make([]string, 0, len(connections))
	for _, connection := range connections {
		sessionIDs = append(sessionIDs, connection.SessionID)
	}
	return sessionIDs, nil
}
