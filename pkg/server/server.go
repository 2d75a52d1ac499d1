// Package server exposes the REST API and chat websocket. It adds no core
// logic: every query path funnels into the session registry's Process
// contract and the envelope shape is passed through unchanged.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tablepilot/tablepilot/pkg/analyzer"
	"github.com/tablepilot/tablepilot/pkg/model"
	"github.com/tablepilot/tablepilot/pkg/session"
	"github.com/tablepilot/tablepilot/pkg/store"
)

// Server serves the REST API for the analysis assistant.
type Server struct {
	sessions    store.SessionStore
	transcripts store.TranscriptStore
	registry    *session.Registry
	provider    model.Provider
	analyzer    *analyzer.Analyzer
	dataDir     string
	srv         *http.Server
}

// New creates a new Server. Uploaded datasets are written under dataDir.
func New(
	sessions store.SessionStore,
	transcripts store.TranscriptStore,
	registry *session.Registry,
	provider model.Provider,
	intents *analyzer.Analyzer,
	dataDir string,
) *Server {
	return &Server{
		sessions:    sessions,
		transcripts: transcripts,
		registry:    registry,
		provider:    provider,
		analyzer:    intents,
		dataDir:     dataDir,
	}
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting API server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Handler builds the route table. Split out so tests can drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Session routes
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Dataset
	mux.HandleFunc("POST /api/sessions/{id}/dataset", s.handleUploadDataset)
	mux.HandleFunc("GET /api/sessions/{id}/dataset", s.handleDatasetInfo)

	// Query
	mux.HandleFunc("POST /api/sessions/{id}/query", s.handleQuery)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleGetTranscript)

	// Intent pre-filter
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/sessions/{id}/chat", s.handleChatWebSocket)

	return s.corsMiddleware(mux)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
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

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
