// Package server hosts the relay HTTP/WebSocket process.
//
// It owns the transport boundary only: connection identity, frame limits,
// and the peer table. Message semantics live behind the router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/relaychat/internal/platform/id"
	"github.com/louisbranch/relaychat/internal/platform/timeouts"
	"github.com/louisbranch/relaychat/internal/relay/ai"
	"github.com/louisbranch/relaychat/internal/relay/broadcast"
	"github.com/louisbranch/relaychat/internal/relay/message"
	"github.com/louisbranch/relaychat/internal/relay/registry"
	"github.com/louisbranch/relaychat/internal/relay/router"
	"github.com/louisbranch/relaychat/internal/relay/storage/sqlite"
	"github.com/louisbranch/relaychat/internal/relay/upload"
)

const (
	sessionIDPrefix = "sess"

	// maxFramePayloadBytes bounds one inbound frame; base64 chunk payloads
	// are the largest legitimate frames.
	maxFramePayloadBytes   = 256 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the relay transport boundary.
type Config struct {
	HTTPAddr          string
	DBPath            string
	AIBaseURL         string
	AIModel           string
	AIRequestTimeout  time.Duration
	MaxFileSize       int64
	AllowedFileTypes  []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the relay HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer serializes writes to one websocket connection.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.Message.Send(p.conn, string(payload))
}

// wsTransport maps session ids to live peers and delivers payloads to them.
type wsTransport struct {
	mu    sync.Mutex
	peers map[string]*wsPeer
}

func newWSTransport() *wsTransport {
	return &wsTransport{peers: make(map[string]*wsPeer)}
}

func (t *wsTransport) attach(sessionID string, conn *websocket.Conn) *wsPeer {
	peer := &wsPeer{conn: conn}
	t.mu.Lock()
	t.peers[sessionID] = peer
	t.mu.Unlock()
	return peer
}

func (t *wsTransport) detach(sessionID string) {
	t.mu.Lock()
	delete(t.peers, sessionID)
	t.mu.Unlock()
}

func (t *wsTransport) peer(sessionID string) *wsPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[sessionID]
}

// Send implements broadcast.Sender. A missing peer or failed write means the
// connection no longer exists; context cancellation is transient.
func (t *wsTransport) Send(ctx context.Context, sessionID string, payload []byte) (broadcast.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return broadcast.TransportError, err
	}
	peer := t.peer(sessionID)
	if peer == nil {
		return broadcast.PeerGone, nil
	}
	if err := peer.send(payload); err != nil {
		return broadcast.PeerGone, err
	}
	return broadcast.Delivered, nil
}

// NewServer builds a configured relay server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dbPath := strings.TrimSpace(config.DBPath)
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open relay store: %w", err)
	}

	reg := registry.New(store)
	transport := newWSTransport()
	deps := router.Deps{
		Registry:    reg,
		Uploads:     upload.NewManager(store, upload.Limits{MaxFileSize: config.MaxFileSize, AllowedFileTypes: config.AllowedFileTypes}),
		Broadcaster: broadcast.New(transport, broadcast.NewReaper(reg)),
		Objects:     store,
	}
	if client := ai.NewClient(config.AIBaseURL, config.AIModel, config.AIRequestTimeout); client != nil {
		deps.Replies = client
	} else {
		log.Printf("relay: AI base url not configured, chat replies disabled")
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(router.New(deps), transport),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close relay store: %v", err)
		}
	}
}

func newHandler(dispatcher *router.Router, transport *wsTransport) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, dispatcher, transport)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func handleWSConn(conn *websocket.Conn, dispatcher *router.Router, transport *wsTransport) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	remoteAddr := ""
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		remoteAddr = request.RemoteAddr
	}

	sessionID, err := id.NewPrefixedID(sessionIDPrefix)
	if err != nil {
		log.Printf("relay: assign session id for %s: %v", remoteAddr, err)
		return
	}
	peer := transport.attach(sessionID, conn)
	defer func() {
		transport.detach(sessionID)
		// The request context is already canceled once the handler unwinds.
		if err := dispatcher.HandleDisconnect(context.Background(), sessionID); err != nil {
			log.Printf("relay: disconnect session %s: %v", sessionID, err)
		}
	}()

	if err := dispatcher.HandleConnect(ctx, sessionID, remoteAddr); err != nil {
		log.Printf("relay: connect session %s from %s: %v", sessionID, remoteAddr, err)
		_ = writeWSError(peer, "UNAVAILABLE", "session registration failed")
		return
	}
	log.Printf("relay: session %s connected from %s", sessionID, remoteAddr)

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(raw) > maxFramePayloadBytes {
			_ = writeWSError(peer, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		if err := dispatcher.HandleMessage(ctx, sessionID, raw); err != nil {
			log.Printf("relay: session %s message failed: %v", sessionID, err)
			_ = writeWSError(peer, errorCode(err), err.Error())
		}
	}
}

// errorCode maps handler failures onto the wire error taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, message.ErrInvalidEnvelope),
		errors.Is(err, message.ErrMissingMessage),
		errors.Is(err, message.ErrUnknownAction),
		errors.Is(err, upload.ErrChunkIndexOutOfRange),
		errors.Is(err, upload.ErrFileTooLarge),
		errors.Is(err, upload.ErrFileTypeNotAllowed):
		return "INVALID_ARGUMENT"
	case errors.Is(err, upload.ErrSessionNotFound):
		return "NOT_FOUND"
	case errors.Is(err, upload.ErrIncompleteUpload):
		return "FAILED_PRECONDITION"
	default:
		return "INTERNAL"
	}
}

func writeWSError(peer *wsPeer, code string, text string) error {
	payload, err := json.Marshal(wsErrorEnvelope{
		Error: wsError{
			Code:    code,
			Message: text,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal error envelope: %w", err)
	}
	return peer.send(payload)
}
