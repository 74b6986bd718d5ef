// Package router dispatches inbound relay envelopes to their handlers.
package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/relaychat/internal/relay/broadcast"
	"github.com/louisbranch/relaychat/internal/relay/message"
	"github.com/louisbranch/relaychat/internal/relay/registry"
	"github.com/louisbranch/relaychat/internal/relay/storage"
	"github.com/louisbranch/relaychat/internal/relay/upload"
)

const tracerName = "github.com/louisbranch/relaychat/internal/relay/router"

// objectKeyPrefix namespaces completed uploads in the object store.
const objectKeyPrefix = "uploads/"

// ReplyClient resolves a chat prompt to generated reply text.
type ReplyClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Deps carries the collaborators a Router dispatches to.
type Deps struct {
	Registry    *registry.Registry
	Uploads     *upload.Manager
	Broadcaster *broadcast.Broadcaster
	Objects     storage.ObjectStore
	// Replies may be nil; chat then broadcasts without an AI turn.
	Replies ReplyClient
}

// Router is the top-level dispatcher for one relay process.
type Router struct {
	registry    *registry.Registry
	uploads     *upload.Manager
	broadcaster *broadcast.Broadcaster
	objects     storage.ObjectStore
	replies     ReplyClient
	now         func() time.Time
}

// New creates a Router.
func New(deps Deps) *Router {
	return &Router{
		registry:    deps.Registry,
		uploads:     deps.Uploads,
		broadcaster: deps.Broadcaster,
		objects:     deps.Objects,
		replies:     deps.Replies,
		now:         time.Now,
	}
}

// NewWithClock creates a Router with an explicit clock for tests.
func NewWithClock(deps Deps, now func() time.Time) *Router {
	router := New(deps)
	router.now = now
	return router
}

// HandleConnect registers a new session and acknowledges it to the peer.
// Registration failure is a user-visible error for the connecting peer.
func (r *Router) HandleConnect(ctx context.Context, sessionID string, metadata string) error {
	if err := r.registry.Register(ctx, sessionID, metadata); err != nil {
		return err
	}
	ack := message.Broadcast{
		Message:      "Connected successfully",
		ConnectionID: sessionID,
		Timestamp:    message.Timestamp(r.now()),
	}
	if err := r.broadcaster.Unicast(ctx, sessionID, ack); err != nil {
		log.Printf("relay: connect ack for session %s: %v", sessionID, err)
	}
	return nil
}

// HandleDisconnect removes a session from the registry.
func (r *Router) HandleDisconnect(ctx context.Context, sessionID string) error {
	return r.registry.Unregister(ctx, sessionID)
}

// HandleMessage decodes one inbound envelope and dispatches it.
func (r *Router) HandleMessage(ctx context.Context, sessionID string, raw []byte) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "relay.handle_message",
		trace.WithAttributes(attribute.String("relay.session_id", sessionID)))
	defer span.End()

	inbound, err := message.Decode(raw)
	if err != nil {
		span.RecordError(err)
		return err
	}

	switch inbound.Kind {
	case message.KindStartUpload:
		span.SetAttributes(attribute.String("relay.action", message.ActionStartFileUpload))
		err = r.handleStartUpload(ctx, sessionID, inbound.Start)
	case message.KindUploadChunk:
		span.SetAttributes(attribute.String("relay.action", message.ActionUploadFileChunk))
		err = r.handleUploadChunk(ctx, sessionID, inbound.Chunk)
	case message.KindCompleteUpload:
		span.SetAttributes(attribute.String("relay.action", message.ActionCompleteFileUpload))
		err = r.handleCompleteUpload(ctx, sessionID, inbound.Complete)
	case message.KindChat:
		span.SetAttributes(attribute.String("relay.action", "chat"))
		err = r.handleChat(ctx, sessionID, inbound.Chat)
	default:
		err = fmt.Errorf("unhandled message kind %d", inbound.Kind)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *Router) handleStartUpload(ctx context.Context, sessionID string, start message.StartUpload) error {
	session, err := r.uploads.Start(ctx, upload.StartInput{
		FileName:    start.FileName,
		FileType:    start.FileType,
		FileSize:    start.FileSize,
		TotalChunks: start.TotalChunks,
	})
	if err != nil {
		return err
	}
	return r.broadcaster.Unicast(ctx, sessionID, message.Broadcast{
		Type:    message.TypeFileUpload,
		Message: fmt.Sprintf("Starting upload of %s", session.FileName),
	})
}

func (r *Router) handleUploadChunk(ctx context.Context, sessionID string, chunk message.UploadChunk) error {
	session, err := r.uploads.AddChunk(ctx, chunk.FileName, chunk.ChunkIndex, chunk.ChunkData)
	if err != nil {
		return err
	}
	return r.broadcaster.Unicast(ctx, sessionID, message.Broadcast{
		Type: message.TypeFileUpload,
		Message: fmt.Sprintf("Received chunk %d of %d for %s",
			chunk.ChunkIndex+1, session.TotalChunks, session.FileName),
	})
}

func (r *Router) handleCompleteUpload(ctx context.Context, sessionID string, complete message.CompleteUpload) error {
	decoded, session, err := r.uploads.Complete(ctx, complete.FileName)
	if err != nil {
		return err
	}
	if err := r.objects.PutObject(ctx, storage.Object{
		Key:         objectKeyPrefix + session.FileName,
		ContentType: session.FileType,
		Body:        decoded,
		CreatedAt:   r.now().UTC(),
	}); err != nil {
		return fmt.Errorf("store upload %s: %w", session.FileName, err)
	}
	return r.broadcaster.Unicast(ctx, sessionID, message.Broadcast{
		Type:    message.TypeFileUpload,
		Message: fmt.Sprintf("Successfully uploaded %s", session.FileName),
	})
}

// handleChat broadcasts the human message to every active session and then
// relays the generated reply. The human fan-out always precedes the reply
// call because the reply is derived from the chat content.
func (r *Router) handleChat(ctx context.Context, sessionID string, chat message.Chat) error {
	targets, err := r.registry.ListActive(ctx)
	if err != nil {
		return err
	}

	r.broadcaster.Broadcast(ctx, targets, message.Broadcast{Message: chat.Message}, sessionID)

	if r.replies == nil {
		return nil
	}
	reply, err := r.replies.Complete(ctx, chat.Message)
	if err != nil {
		return fmt.Errorf("generate reply for session %s: %w", sessionID, err)
	}

	r.broadcaster.Broadcast(ctx, targets, message.Broadcast{
		Message:   reply,
		Sender:    message.SenderAI,
		Timestamp: message.Timestamp(r.now()),
	}, "")
	return nil
}
