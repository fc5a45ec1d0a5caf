package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ritzau/mindmap/pkg/annotation"
	"github.com/ritzau/mindmap/pkg/graph"
	"github.com/ritzau/mindmap/pkg/interaction"
	"github.com/ritzau/mindmap/pkg/logging"
	"github.com/ritzau/mindmap/pkg/mindmap"
	"github.com/ritzau/mindmap/pkg/pubsub"
)

//go:embed static/index.html static/style.css static/app.js
var staticFiles embed.FS

// maxBody bounds JSON request bodies
const maxBody = 1 << 20

// StatusActivated is published on the status topic when a node is
// activated, so an external producer can start the matching turn.
const StatusActivated = "node_activated"

// Assistant produces replies for turns
type Assistant interface {
	Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
	Reset()
}

// Activation is the payload of a node_activated status event
type Activation struct {
	NodeID  int64  `json:"nodeId"`
	Content string `json:"content"`
}

// TurnRequest starts a turn
type TurnRequest struct {
	Text     string `json:"text"`
	ParentID *int64 `json:"parentId,omitempty"`
}

// TurnResponse identifies a started turn by its node
type TurnResponse struct {
	TurnID int64 `json:"turnId"`
}

// ChunkRequest carries one response fragment
type ChunkRequest struct {
	Text string `json:"text"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	session   *mindmap.Session
	publisher *pubsub.SSEPublisher
	assistant Assistant
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	replies sync.WaitGroup
}

// NewServer creates a server around a new session. assistant may be nil,
// in which case turns are only fed through the API.
func NewServer(opts mindmap.Options, assistant Assistant) *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// session_status: replay the recent turn history to new subscribers
	ssePublisher.ConfigureTopic(mindmap.TopicStatus, pubsub.TopicConfig{BufferSize: 20})

	// scene: no buffering, subscribers start from a full scene
	ssePublisher.ConfigureTopic(mindmap.TopicScene, pubsub.TopicConfig{})

	s := &Server{
		router:    mux.NewRouter(),
		session:   mindmap.NewSession(opts, ssePublisher),
		publisher: ssePublisher,
		assistant: assistant,
		done:      make(chan struct{}),
		upgrader:  websocket.Upgrader{CheckOrigin: localOrigin},
	}
	s.session.OnActivate(s.activated)
	s.setupRoutes()
	return s
}

// Session returns the served session
func (s *Server) Session() *mindmap.Session {
	return s.session
}

// Handler returns the routes wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/scene", s.handleSubscribeScene).Methods("GET")
	s.router.HandleFunc("/api/subscribe/session_status", s.handleSubscribeStatus).Methods("GET")
	s.router.HandleFunc("/api/ws", s.handleWebSocket).Methods("GET")

	s.router.HandleFunc("/api/scene", s.handleScene).Methods("GET")
	s.router.HandleFunc("/api/turns", s.handleStartTurn).Methods("POST")
	s.router.HandleFunc("/api/turns/{id:[0-9]+}/chunks", s.handleChunk).Methods("POST")
	s.router.HandleFunc("/api/turns/{id:[0-9]+}/end", s.handleEndTurn).Methods("POST")
	s.router.HandleFunc("/api/turns/{id:[0-9]+}/stream", s.handleStream).Methods("POST")
	s.router.HandleFunc("/api/volumes", s.handleVolumes).Methods("POST")
	s.router.HandleFunc("/api/events", s.handleEvent).Methods("POST")
	s.router.HandleFunc("/api/recenter", s.handleRecenter).Methods("POST")
	s.router.HandleFunc("/api/clear", s.handleClear).Methods("POST")

	// Serve static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logging.Fatal("static files missing", "error", err)
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))
}

// activated runs outside the session lock
func (s *Server) activated(content string, nodeID int64) {
	if err := s.publisher.Publish(mindmap.TopicStatus, StatusActivated, Activation{NodeID: nodeID, Content: content}); err != nil {
		logging.Warn("failed to publish activation", "error", err)
	}
	if s.assistant == nil {
		return
	}
	turnID, err := s.session.StartTurnAt(content, nodeID)
	if err != nil {
		logging.Warn("activation did not start a turn", "node", nodeID, "error", err)
		return
	}
	s.reply(turnID, content)
}

// reply streams the assistant answer into a turn in the background.
// Nothing starts once the server is closing.
func (s *Server) reply(turnID int64, prompt string) {
	ctx, ok := s.session.TurnContext(turnID)
	if !ok || s.assistant == nil || ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logging.Debug("server closing, reply not started", "node", turnID)
		return
	}
	s.replies.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.replies.Done()
		_, err := s.assistant.Stream(ctx, prompt, func(chunk string) error {
			return s.session.FeedChunkContext(ctx, turnID, chunk)
		})
		if ctx.Err() != nil {
			logging.Debug("reply abandoned", "node", turnID)
			return
		}
		if err != nil {
			logging.Warn("assistant reply failed", "node", turnID, "error", err)
		}
		if _, err := s.session.EndTurnContext(ctx, turnID); err != nil && ctx.Err() == nil {
			logging.Warn("failed to end turn", "node", turnID, "error", err)
		}
	}()
}

func (s *Server) handleSubscribeScene(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, mindmap.TopicScene, func() *pubsub.Event {
		data, err := json.Marshal(s.session.Scene())
		if err != nil {
			return nil
		}
		return &pubsub.Event{Topic: mindmap.TopicScene, Type: "scene", Data: data}
	})
}

func (s *Server) handleSubscribeStatus(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, mindmap.TopicStatus, nil)
}

// streamTopic relays a topic as server-sent events. initial, when set,
// provides an event sent right after subscribing.
func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic string, initial func() *pubsub.Event) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush()

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()
	logging.DebugContext(r.Context(), "subscriber joined", "topic", topic, "subscribers", s.publisher.Subscribers(topic))
	defer func() {
		logging.DebugContext(r.Context(), "subscriber left", "topic", topic, "subscribers", s.publisher.Subscribers(topic)-1)
	}()

	if initial != nil {
		if ev := initial(); ev != nil {
			if err := pubsub.WriteSSE(w, *ev); err != nil {
				return
			}
			flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.DebugContext(r.Context(), "subscriber gone", "topic", topic, "error", err)
				return
			}
			flush()
		}
	}
}

// handleWebSocket accepts input events and pushes scene updates on one
// connection. Every message from the client is an interaction event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.publisher.Subscribe(ctx, mindmap.TopicScene)
	if err != nil {
		logging.WarnContext(ctx, "websocket subscribe failed", "error", err)
		return
	}
	defer sub.Close()

	// unblocks ReadJSON when the request or the server goes away
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		conn.Close()
	}()

	// the writer goroutine owns all writes to conn
	replies := make(chan pubsub.Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		data, _ := json.Marshal(s.session.Scene())
		if err := conn.WriteJSON(pubsub.Event{Topic: mindmap.TopicScene, Type: "scene", Data: data}); err != nil {
			cancel()
			return
		}
		for {
			var ev pubsub.Event
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Events():
				if !ok {
					cancel()
					return
				}
				ev = e
			case ev = <-replies:
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				logging.DebugContext(ctx, "websocket write failed", "error", err)
				cancel()
				return
			}
		}
	}()

	for {
		var ev interaction.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.WarnContext(ctx, "websocket read failed", "error", err)
			}
			break
		}
		if err := s.session.HandleEvent(ev); err != nil {
			msg, _ := json.Marshal(map[string]string{"error": err.Error()})
			select {
			case replies <- pubsub.Event{Type: "error", Data: msg}:
			case <-ctx.Done():
			}
		}
	}
	cancel()
	<-done
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Scene())
}

func (s *Server) handleStartTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	var (
		id  int64
		err error
	)
	if req.ParentID != nil {
		id, err = s.session.StartTurnAt(req.Text, *req.ParentID)
	} else {
		id, err = s.session.StartTurn(req.Text)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if id == 0 && req.ParentID != nil {
		// lenient mode ignored an invalid parent
		writeError(w, http.StatusNotFound, fmt.Errorf("parent %d: %w", *req.ParentID, graph.ErrInvalidReference))
		return
	}

	s.reply(id, req.Text)
	writeJSON(w, http.StatusCreated, TurnResponse{TurnID: id})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := turnID(w, r)
	if !ok {
		return
	}
	var req ChunkRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.session.FeedChunk(id, req.Text); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := turnID(w, r)
	if !ok {
		return
	}
	final, err := s.session.EndTurn(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

// handleStream ingests a whole turn in the event-stream wire format:
// "data: <text>" lines, an optional "data: SEARCH_VOLUMES{...}" line and a
// terminating "data: [END]". A body ending without the end marker ends the
// turn as well.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := turnID(w, r)
	if !ok {
		return
	}
	ctx, ok := s.session.TurnContext(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream for turn %d: %w", id, mindmap.ErrUnknownTurn))
		return
	}

	reader := annotation.NewReader(r.Body)
	frames := 0
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			logging.DebugContext(r.Context(), "stream ended without end marker", "node", id)
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		frames++

		if frame.Kind == annotation.FrameEnd {
			break
		}
		switch frame.Kind {
		case annotation.FrameVolumes:
			// malformed payloads are logged and ignored
			_, _ = s.session.FeedVolumesRaw([]byte(frame.Data))
		case annotation.FrameText:
			err = s.session.FeedChunkContext(ctx, id, frame.Data)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}

	final, err := s.session.EndTurnContext(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	logging.DebugContext(r.Context(), "stream ingested", "node", id, "frames", frames)
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := s.session.FeedVolumesRaw(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev interaction.Event
	if !decode(w, r, &ev) {
		return
	}
	if err := s.session.HandleEvent(ev); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecenter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"recentered": s.session.RecenterRoot()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	if s.assistant != nil {
		s.assistant.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Start serves on port until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", "http://localhost"+addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels open turns, waits for background replies and closes all
// subscriptions
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.session.Close()
	s.replies.Wait()
	s.publisher.Close()
}

// localOrigin accepts websocket handshakes from the served page and from
// loopback origins only. The server is meant for local use.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func turnID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mindmap.ErrUnknownTurn), errors.Is(err, graph.ErrInvalidReference):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, interaction.ErrNoEntry):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
