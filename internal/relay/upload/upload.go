// Package upload reassembles files transmitted as ordered base64 chunks.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/relaychat/internal/relay/storage"
)

// maxUpdateRetries bounds the optimistic-concurrency retry loop for one
// chunk write.
const maxUpdateRetries = 5

var (
	// ErrSessionNotFound indicates a chunk or completion referenced a file
	// name with no active upload session.
	ErrSessionNotFound = errors.New("no upload session for file")
	// ErrIncompleteUpload indicates completion was requested before every
	// chunk arrived.
	ErrIncompleteUpload = errors.New("incomplete upload")
	// ErrChunkIndexOutOfRange indicates a chunk index outside [0, totalChunks).
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrFileTooLarge indicates the upload exceeds the configured size cap.
	ErrFileTooLarge = errors.New("file size exceeds maximum allowed size")
	// ErrFileTypeNotAllowed indicates a file type outside the configured set.
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
)

// Limits bounds accepted uploads.
type Limits struct {
	// MaxFileSize caps the decoded byte size; zero disables the cap.
	MaxFileSize int64
	// AllowedFileTypes lists accepted extensions; empty allows any.
	AllowedFileTypes []string
}

// StartInput describes a new upload session.
type StartInput struct {
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
}

// Manager owns upload session state. Sessions are keyed by file name and
// persisted so consecutive chunks may be handled by different process
// instances.
type Manager struct {
	store  storage.UploadStore
	limits Limits
	now    func() time.Time
}

// NewManager creates a Manager over the given upload store.
func NewManager(store storage.UploadStore, limits Limits) *Manager {
	return &Manager{store: store, limits: limits, now: time.Now}
}

// NewManagerWithClock creates a Manager with an explicit clock for tests.
func NewManagerWithClock(store storage.UploadStore, limits Limits, now func() time.Time) *Manager {
	return &Manager{store: store, limits: limits, now: now}
}

// maxEncodedSize returns the base64 text budget implied by the decoded cap.
func (m *Manager) maxEncodedSize() int64 {
	if m.limits.MaxFileSize <= 0 {
		return 0
	}
	return (m.limits.MaxFileSize+2)/3*4 + 4
}

func (m *Manager) fileTypeAllowed(fileType string) bool {
	if len(m.limits.AllowedFileTypes) == 0 {
		return true
	}
	fileType = strings.ToLower(strings.TrimSpace(fileType))
	for _, allowed := range m.limits.AllowedFileTypes {
		if strings.ToLower(strings.TrimSpace(allowed)) == fileType {
			return true
		}
	}
	return false
}

// Start opens an upload session. A pre-existing session for the same file
// name is overwritten; concurrent uploads must use distinct file names.
func (m *Manager) Start(ctx context.Context, input StartInput) (storage.UploadSession, error) {
	if m == nil || m.store == nil {
		return storage.UploadSession{}, fmt.Errorf("upload manager is not configured")
	}
	input.FileName = strings.TrimSpace(input.FileName)
	if input.FileName == "" {
		return storage.UploadSession{}, fmt.Errorf("file name is required")
	}
	input.FileType = strings.TrimSpace(input.FileType)
	if input.FileType == "" {
		return storage.UploadSession{}, fmt.Errorf("file type is required")
	}
	if input.TotalChunks <= 0 {
		return storage.UploadSession{}, fmt.Errorf("total chunks must be positive")
	}
	if !m.fileTypeAllowed(input.FileType) {
		return storage.UploadSession{}, fmt.Errorf("%w: %s", ErrFileTypeNotAllowed, input.FileType)
	}
	if m.limits.MaxFileSize > 0 && input.FileSize > m.limits.MaxFileSize {
		return storage.UploadSession{}, fmt.Errorf("%w: declared %d bytes", ErrFileTooLarge, input.FileSize)
	}

	now := m.now().UTC()
	session := storage.UploadSession{
		FileName:     input.FileName,
		FileType:     input.FileType,
		DeclaredSize: input.FileSize,
		TotalChunks:  input.TotalChunks,
		Chunks:       map[int]string{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.PutUploadSession(ctx, session); err != nil {
		return storage.UploadSession{}, fmt.Errorf("start upload %s: %w", input.FileName, err)
	}
	return session, nil
}

// AddChunk stores one chunk. Chunks may arrive in any order; a duplicate
// index overwrites its previous payload without double-counting. The write
// retries on version conflicts so concurrent chunk arrivals for the same
// file do not lose updates.
func (m *Manager) AddChunk(ctx context.Context, fileName string, index int, data string) (storage.UploadSession, error) {
	if m == nil || m.store == nil {
		return storage.UploadSession{}, fmt.Errorf("upload manager is not configured")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return storage.UploadSession{}, fmt.Errorf("file name is required")
	}
	if data == "" {
		return storage.UploadSession{}, fmt.Errorf("chunk data is required")
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		session, err := m.store.GetUploadSession(ctx, fileName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.UploadSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, fileName)
			}
			return storage.UploadSession{}, fmt.Errorf("load upload session %s: %w", fileName, err)
		}
		if index < 0 || index >= session.TotalChunks {
			return storage.UploadSession{}, fmt.Errorf("%w: index %d, total %d", ErrChunkIndexOutOfRange, index, session.TotalChunks)
		}

		if maxEncoded := m.maxEncodedSize(); maxEncoded > 0 {
			var encoded int64
			for existing, payload := range session.Chunks {
				if existing == index {
					continue
				}
				encoded += int64(len(payload))
			}
			encoded += int64(len(data))
			if encoded > maxEncoded {
				return storage.UploadSession{}, fmt.Errorf("%w: %s", ErrFileTooLarge, fileName)
			}
		}

		if session.Chunks == nil {
			session.Chunks = map[int]string{}
		}
		session.Chunks[index] = data
		session.ReceivedCount = len(session.Chunks)
		session.Version++
		session.UpdatedAt = m.now().UTC()

		err = m.store.UpdateUploadSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			continue
		}
		return storage.UploadSession{}, fmt.Errorf("store chunk %d of %s: %w", index, fileName, err)
	}
	return storage.UploadSession{}, fmt.Errorf("store chunk %d of %s: %w", index, fileName, storage.ErrVersionConflict)
}

// Complete reassembles the file from its chunks in index order and removes
// the session. Both success and a fatal validation failure terminate the
// session; there is no resumption.
func (m *Manager) Complete(ctx context.Context, fileName string) ([]byte, storage.UploadSession, error) {
	if m == nil || m.store == nil {
		return nil, storage.UploadSession{}, fmt.Errorf("upload manager is not configured")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, storage.UploadSession{}, fmt.Errorf("file name is required")
	}

	session, err := m.store.GetUploadSession(ctx, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.UploadSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, fileName)
		}
		return nil, storage.UploadSession{}, fmt.Errorf("load upload session %s: %w", fileName, err)
	}

	if session.ReceivedCount != session.TotalChunks {
		m.discard(ctx, fileName)
		return nil, storage.UploadSession{}, fmt.Errorf("%w: received %d of %d chunks for %s",
			ErrIncompleteUpload, session.ReceivedCount, session.TotalChunks, fileName)
	}

	// The received count should make gaps impossible, but a corrupt record
	// must not produce a silently truncated file.
	var encoded strings.Builder
	for index := 0; index < session.TotalChunks; index++ {
		payload, ok := session.Chunks[index]
		if !ok {
			m.discard(ctx, fileName)
			return nil, storage.UploadSession{}, fmt.Errorf("%w: missing chunk %d for %s", ErrIncompleteUpload, index, fileName)
		}
		encoded.WriteString(payload)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		m.discard(ctx, fileName)
		return nil, storage.UploadSession{}, fmt.Errorf("decode upload %s: %w", fileName, err)
	}
	if m.limits.MaxFileSize > 0 && int64(len(decoded)) > m.limits.MaxFileSize {
		m.discard(ctx, fileName)
		return nil, storage.UploadSession{}, fmt.Errorf("%w: %s decoded to %d bytes", ErrFileTooLarge, fileName, len(decoded))
	}

	if err := m.store.DeleteUploadSession(ctx, fileName); err != nil {
		return nil, storage.UploadSession{}, fmt.Errorf("remove upload session %s: %w", fileName, err)
	}
	return decoded, session, nil
}

// discard removes a session after a fatal completion failure. A failed
// discard leaves a dead row behind; the next start for this file name
// overwrites it.
func (m *Manager) discard(ctx context.Context, fileName string) {
	if err := m.store.DeleteUploadSession(ctx, fileName); err != nil {
		log.Printf("relay: discard upload session %s: %v", fileName, err)
	}
}
