package message

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeChat(t *testing.T) {
	got, err := Decode([]byte(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindChat {
		t.Fatalf("kind = %d, want KindChat", got.Kind)
	}
	if got.Chat.Message != "hello" {
		t.Fatalf("message = %q, want %q", got.Chat.Message, "hello")
	}
}

func TestDecodeMissingMessage(t *testing.T) {
	_, err := Decode([]byte(`{}`))
	if !errors.Is(err, ErrMissingMessage) {
		t.Fatalf("err = %v, want ErrMissingMessage", err)
	}
}

func TestDecodeUnknownAction(t *testing.T) {
	_, err := Decode([]byte(`{"action":"selfDestruct","message":"boom"}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
}

func TestDecodeStartUpload(t *testing.T) {
	got, err := Decode([]byte(`{"action":"startFileUpload","fileName":"a.txt","fileType":"txt","fileSize":11,"totalChunks":2}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindStartUpload {
		t.Fatalf("kind = %d, want KindStartUpload", got.Kind)
	}
	want := StartUpload{FileName: "a.txt", FileType: "txt", FileSize: 11, TotalChunks: 2}
	if got.Start != want {
		t.Fatalf("start = %+v, want %+v", got.Start, want)
	}
}

func TestDecodeStartUploadValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing file name", `{"action":"startFileUpload","fileType":"txt","totalChunks":2}`, "fileName is required"},
		{"missing file type", `{"action":"startFileUpload","fileName":"a.txt","totalChunks":2}`, "fileType is required"},
		{"zero chunks", `{"action":"startFileUpload","fileName":"a.txt","fileType":"txt","totalChunks":0}`, "totalChunks must be positive"},
		{"negative size", `{"action":"startFileUpload","fileName":"a.txt","fileType":"txt","fileSize":-1,"totalChunks":2}`, "fileSize must not be negative"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestDecodeUploadChunk(t *testing.T) {
	got, err := Decode([]byte(`{"action":"uploadFileChunk","fileName":"a.txt","chunkIndex":0,"chunkData":"aGVsbG8g"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindUploadChunk {
		t.Fatalf("kind = %d, want KindUploadChunk", got.Kind)
	}
	if got.Chunk.ChunkIndex != 0 {
		t.Fatalf("chunk index = %d, want 0", got.Chunk.ChunkIndex)
	}
	if got.Chunk.ChunkData != "aGVsbG8g" {
		t.Fatalf("chunk data = %q", got.Chunk.ChunkData)
	}
}

func TestDecodeUploadChunkRequiresIndex(t *testing.T) {
	_, err := Decode([]byte(`{"action":"uploadFileChunk","fileName":"a.txt","chunkData":"aGVsbG8g"}`))
	if err == nil || !strings.Contains(err.Error(), "chunkIndex is required") {
		t.Fatalf("err = %v, want chunkIndex is required", err)
	}
}

func TestDecodeUploadChunkRequiresData(t *testing.T) {
	_, err := Decode([]byte(`{"action":"uploadFileChunk","fileName":"a.txt","chunkIndex":1}`))
	if err == nil || !strings.Contains(err.Error(), "chunkData is required") {
		t.Fatalf("err = %v, want chunkData is required", err)
	}
}

func TestDecodeCompleteUpload(t *testing.T) {
	got, err := Decode([]byte(`{"action":"completeFileUpload","fileName":"a.txt"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindCompleteUpload {
		t.Fatalf("kind = %d, want KindCompleteUpload", got.Kind)
	}
	if got.Complete.FileName != "a.txt" {
		t.Fatalf("file name = %q, want a.txt", got.Complete.FileName)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{`))
	if err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestTimestampIsUTCRFC3339(t *testing.T) {
	at := time.Date(2026, time.August, 30, 15, 4, 5, 0, time.FixedZone("EST", -5*3600))
	if got := Timestamp(at); got != "2026-08-30T20:04:05Z" {
		t.Fatalf("timestamp = %q", got)
	}
}
