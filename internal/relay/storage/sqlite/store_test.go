package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/relay.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConnectionRegisterScanDelete(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	for _, sessionID := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := store.PutConnection(context.Background(), storage.Connection{
			SessionID:   sessionID,
			ConnectedAt: now,
			Metadata:    "remote=" + sessionID,
		}); err != nil {
			t.Fatalf("put connection %s: %v", sessionID, err)
		}
	}

	// Re-registering the same id must upsert, not duplicate.
	if err := store.PutConnection(context.Background(), storage.Connection{
		SessionID:   "sess-2",
		ConnectedAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("re-put connection: %v", err)
	}

	connections, err := store.ScanConnections(context.Background())
	if err != nil {
		t.Fatalf("scan connections: %v", err)
	}
	if len(connections) != 3 {
		t.Fatalf("connections len = %d, want 3", len(connections))
	}

	if err := store.DeleteConnection(context.Background(), "sess-2"); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	// Deleting an absent id is a no-op.
	if err := store.DeleteConnection(context.Background(), "sess-2"); err != nil {
		t.Fatalf("delete absent connection: %v", err)
	}

	connections, err = store.ScanConnections(context.Background())
	if err != nil {
		t.Fatalf("scan connections after delete: %v", err)
	}
	if len(connections) != 2 {
		t.Fatalf("connections len = %d, want 2", len(connections))
	}
	for _, connection := range connections {
		if connection.SessionID == "sess-2" {
			t.Fatal("expected sess-2 to be removed")
		}
	}
}

func TestPutConnectionRequiresSessionID(t *testing.T) {
	store := openTestStore(t)
	err := store.PutConnection(context.Background(), storage.Connection{SessionID: "  "})
	if err == nil {
		t.Fatal("expected error for blank session id")
	}
}

func TestUploadSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	session := storage.UploadSession{
		FileName:      "a.txt",
		FileType:      "txt",
		DeclaredSize:  11,
		TotalChunks:   2,
		ReceivedCount: 1,
		Chunks:        map[int]string{1: "d29ybGQ="},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutUploadSession(context.Background(), session); err != nil {
		t.Fatalf("put upload session: %v", err)
	}

	got, err := store.GetUploadSession(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("get upload session: %v", err)
	}
	if got.FileType != "txt" || got.DeclaredSize != 11 || got.TotalChunks != 2 {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.ReceivedCount != 1 || got.Chunks[1] != "d29ybGQ=" {
		t.Fatalf("unexpected chunk state %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, now)
	}
}

func TestUploadSessionConditionalUpdate(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	session := storage.UploadSession{
		FileName:    "a.txt",
		FileType:    "txt",
		TotalChunks: 2,
		Chunks:      map[int]string{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.PutUploadSession(context.Background(), session); err != nil {
		t.Fatalf("put upload session: %v", err)
	}

	session.Chunks = map[int]string{0: "aGVsbG8g"}
	session.ReceivedCount = 1
	session.Version = 2
	if err := store.UpdateUploadSession(context.Background(), session); err != nil {
		t.Fatalf("update upload session: %v", err)
	}

	// Replaying the same version transition must lose the race.
	err := store.UpdateUploadSession(context.Background(), session)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	got, err := store.GetUploadSession(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("get upload session: %v", err)
	}
	if got.Version != 2 || got.ReceivedCount != 1 {
		t.Fatalf("unexpected session after update %+v", got)
	}
}

func TestUploadSessionStartOverwrites(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	first := storage.UploadSession{
		FileName:      "a.txt",
		FileType:      "txt",
		TotalChunks:   4,
		ReceivedCount: 2,
		Chunks:        map[int]string{0: "YQ==", 1: "Yg=="},
		Version:       3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutUploadSession(context.Background(), first); err != nil {
		t.Fatalf("put first session: %v", err)
	}

	second := storage.UploadSession{
		FileName:    "a.txt",
		FileType:    "pdf",
		TotalChunks: 2,
		Chunks:      map[int]string{},
		Version:     1,
		CreatedAt:   now.Add(time.Minute),
		UpdatedAt:   now.Add(time.Minute),
	}
	if err := store.PutUploadSession(context.Background(), second); err != nil {
		t.Fatalf("put second session: %v", err)
	}

	got, err := store.GetUploadSession(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("get upload session: %v", err)
	}
	if got.FileType != "pdf" || got.TotalChunks != 2 || got.ReceivedCount != 0 || got.Version != 1 {
		t.Fatalf("expected second start to win, got %+v", got)
	}
}

func TestGetUploadSessionNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetUploadSession(context.Background(), "missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteUploadSession(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	if err := store.PutUploadSession(context.Background(), storage.UploadSession{
		FileName:    "a.txt",
		FileType:    "txt",
		TotalChunks: 1,
		Chunks:      map[int]string{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("put upload session: %v", err)
	}
	if err := store.DeleteUploadSession(context.Background(), "a.txt"); err != nil {
		t.Fatalf("delete upload session: %v", err)
	}
	if _, err := store.GetUploadSession(context.Background(), "a.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	if err := store.PutObject(context.Background(), storage.Object{
		Key:         "uploads/a.txt",
		ContentType: "txt",
		Body:        []byte("hello world"),
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("put object: %v", err)
	}

	got, err := store.GetObject(context.Background(), "uploads/a.txt")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if string(got.Body) != "hello world" {
		t.Fatalf("body = %q, want %q", got.Body, "hello world")
	}
	if got.ContentType != "txt" {
		t.Fatalf("content type = %q, want %q", got.ContentType, "txt")
	}

	if _, err := store.GetObject(context.Background(), "uploads/missing.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
