// Package message defines the relay wire envelopes.
//
// Inbound payloads are decoded once at the transport boundary into a closed
// set of message kinds; handlers never probe optional fields themselves.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound action tags.
const (
	ActionStartFileUpload    = "startFileUpload"
	ActionUploadFileChunk    = "uploadFileChunk"
	ActionCompleteFileUpload = "completeFileUpload"
)

// Broadcast sender attributions.
const (
	SenderSelf  = "You"
	SenderOther = "Other"
	SenderAI    = "AI"
)

// TypeFileUpload marks upload status envelopes.
const TypeFileUpload = "fileUpload"

var (
	// ErrInvalidEnvelope indicates a payload that is not valid JSON or is
	// missing a required field for its action.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrMissingMessage indicates a chat envelope without a message body.
	ErrMissingMessage = errors.New("message is required")
	// ErrUnknownAction indicates an unrecognized action tag.
	ErrUnknownAction = errors.New("unknown action")
)

// Kind discriminates decoded inbound messages.
type Kind int

const (
	// KindChat is a plain chat message to broadcast.
	KindChat Kind = iota
	// KindStartUpload begins a chunked file upload.
	KindStartUpload
	// KindUploadChunk carries one chunk of an in-progress upload.
	KindUploadChunk
	// KindCompleteUpload finalizes a chunked file upload.
	KindCompleteUpload
)

// Chat is a broadcastable chat message.
type Chat struct {
	Message string
}

// StartUpload begins an upload session.
type StartUpload struct {
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
}

// UploadChunk carries one base64 chunk.
type UploadChunk struct {
	FileName   string
	ChunkIndex int
	ChunkData  string
}

// CompleteUpload finalizes an upload session.
type CompleteUpload struct {
	FileName string
}

// Inbound is the closed union of messages a peer may send.
type Inbound struct {
	Kind     Kind
	Chat     Chat
	Start    StartUpload
	Chunk    UploadChunk
	Complete CompleteUpload
}

type inboundWire struct {
	Action      string `json:"action"`
	Message     string `json:"message"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	ChunkIndex  *int   `json:"chunkIndex"`
	ChunkData   string `json:"chunkData"`
}

// Decode parses raw into an Inbound message, rejecting unknown shapes.
func Decode(raw []byte) (Inbound, error) {
	var wire inboundWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch strings.TrimSpace(wire.Action) {
	case "":
		if strings.TrimSpace(wire.Message) == "" {
			return Inbound{}, ErrMissingMessage
		}
		return Inbound{Kind: KindChat, Chat: Chat{Message: wire.Message}}, nil

	case ActionStartFileUpload:
		start := StartUpload{
			FileName:    strings.TrimSpace(wire.FileName),
			FileType:    strings.TrimSpace(wire.FileType),
			FileSize:    wire.FileSize,
			TotalChunks: wire.TotalChunks,
		}
		if start.FileName == "" {
			return Inbound{}, fmt.Errorf("%w: %s: fileName is required", ErrInvalidEnvelope, ActionStartFileUpload)
		}
		if start.FileType == "" {
			return Inbound{}, fmt.Errorf("%w: %s: fileType is required", ErrInvalidEnvelope, ActionStartFileUpload)
		}
		if start.TotalChunks <= 0 {
			return Inbound{}, fmt.Errorf("%w: %s: totalChunks must be positive", ErrInvalidEnvelope, ActionStartFileUpload)
		}
		if start.FileSize < 0 {
			return Inbound{}, fmt.Errorf("%w: %s: fileSize must not be negative", ErrInvalidEnvelope, ActionStartFileUpload)
		}
		return Inbound{Kind: KindStartUpload, Start: start}, nil

	case ActionUploadFileChunk:
		chunk := UploadChunk{
			FileName:  strings.TrimSpace(wire.FileName),
			ChunkData: wire.ChunkData,
		}
		if chunk.FileName == "" {
			return Inbound{}, fmt.Errorf("%w: %s: fileName is required", ErrInvalidEnvelope, ActionUploadFileChunk)
		}
		if wire.ChunkIndex == nil {
			return Inbound{}, fmt.Errorf("%w: %s: chunkIndex is required", ErrInvalidEnvelope, ActionUploadFileChunk)
		}
		chunk.ChunkIndex = *wire.ChunkIndex
		if chunk.ChunkData == "" {
			return Inbound{}, fmt.Errorf("%w: %s: chunkData is required", ErrInvalidEnvelope, ActionUploadFileChunk)
		}
		return Inbound{Kind: KindUploadChunk, Chunk: chunk}, nil

	case ActionCompleteFileUpload:
		complete := CompleteUpload{FileName: strings.TrimSpace(wire.FileName)}
		if complete.FileName == "" {
			return Inbound{}, fmt.Errorf("%w: %s: fileName is required", ErrInvalidEnvelope, ActionCompleteFileUpload)
		}
		return Inbound{Kind: KindCompleteUpload, Complete: complete}, nil

	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownAction, wire.Action)
	}
}

// Broadcast is the envelope relayed to peers.
type Broadcast struct {
	Message      string `json:"message,omitempty"`
	Type         string `json:"type,omitempty"`
	Sender       string `json:"sender,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// Timestamp formats a broadcast timestamp.
func Timestamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}
