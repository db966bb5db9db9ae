package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamthumb/internal/config"
	"streamthumb/internal/dispatch"
	"streamthumb/internal/logger"
	"streamthumb/internal/preview"
	"streamthumb/internal/session"
	"streamthumb/internal/thumbnail"
)

// maxUploadBytes bounds uploaded preview images
const maxUploadBytes = 16 << 20

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	updater   *preview.Updater
	store     *session.Store
	hub       *dispatch.Hub
	configMgr *config.Manager
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(updater *preview.Updater, store *session.Store, hub *dispatch.Hub, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		updater:   updater,
		store:     store,
		hub:       hub,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tool, observers connect from anywhere
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Preview updates
	api.HandleFunc("/preview", s.handleUploadPreview).Methods("POST")
	api.HandleFunc("/preview/capture", s.handleCapturePreview).Methods("POST")
	api.HandleFunc("/preview/stream", s.handlePreviewStream)

	// Session state
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/user", s.handleSetUser).Methods("PUT")
	api.HandleFunc("/session/stream", s.handleSetStream).Methods("PUT")
	api.HandleFunc("/session/connection", s.handleConnectionEvent).Methods("POST")

	// Settings
	api.HandleFunc("/settings/auto-previews", s.handleGetAutoPreviews).Methods("GET")
	api.HandleFunc("/settings/auto-previews", s.handleSetAutoPreviews).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().
		Str("addr", addr).
		Msg("Starting server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeUpdateError maps update failures to HTTP statuses
func (s *Server) writeUpdateError(w http.ResponseWriter, err error) {
	var renderErr *thumbnail.RenderError
	var submitErr *preview.RemoteSubmitError

	switch {
	case errors.Is(err, preview.ErrNoCurrentUser), errors.Is(err, preview.ErrNoActiveStream):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &renderErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &submitErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTP Handlers

func (s *Server) handleUploadPreview(w http.ResponseWriter, r *http.Request) {
	data, err := readImageBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, err := thumbnail.Decode(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.updater.UpdateFromImage(r.Context(), img); err != nil {
		s.writeUpdateError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// readImageBody accepts either a multipart "image" part or a raw image body
func readImageBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image part: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	return data, nil
}

func (s *Server) handleCapturePreview(w http.ResponseWriter, r *http.Request) {
	if err := s.updater.UpdateFromCapture(r.Context()); err != nil {
		s.writeUpdateError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handlePreviewStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	for update := range updates {
		if err := conn.WriteJSON(update); err != nil {
			logger.WithComponent("api").Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		User      *session.User   `json:"user,omitempty"`
		Stream    *session.Stream `json:"stream,omitempty"`
		StreamKey string          `json:"stream_key,omitempty"`
	}{}

	if user, ok := s.store.CurrentUser(); ok {
		resp.User = &user
	}
	if stream, ok := s.store.ActiveStream(); ok {
		resp.Stream = &stream
		resp.StreamKey = stream.Key()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleSetUser(w http.ResponseWriter, r *http.Request) {
	var user session.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if user.ID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	s.store.SetCurrentUser(user)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleSetStream(w http.ResponseWriter, r *http.Request) {
	var stream session.Stream
	if err := json.NewDecoder(r.Body).Decode(&stream); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if stream.ChannelID == "" || stream.OwnerID == "" {
		http.Error(w, "channel_id and owner_id are required", http.StatusBadRequest)
		return
	}

	s.store.SetActiveStream(stream)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"stream_key": stream.Key()})
}

func (s *Server) handleConnectionEvent(w http.ResponseWriter, r *http.Request) {
	var ev session.ConnectionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.updater.HandleConnectionUpdate(ev)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleGetAutoPreviews(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{
		"disabled": s.configMgr.GetDisableAutoPreviews(),
	})
}

func (s *Server) handleSetAutoPreviews(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.SetDisableAutoPreviews(req.Disabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
