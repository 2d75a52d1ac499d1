package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": s.registry.Len(),
	})
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var sess domain.Session
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err)
			return
		}
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if err := s.sessions.Create(r.Context(), &sess); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.registry.Create(sess.ID); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Evict(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Dataset ---

func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found: %s", id))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	ds, err := dataset.Load(header.Filename, file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	// Persist the raw CSV so the session can be rebound after a restart.
	path := filepath.Join(s.dataDir, id+".csv")
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := ds.WriteCSV(f); err != nil {
		f.Close()
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := f.Close(); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	handle.Bind(ds)
	if err := s.sessions.SetDataset(r.Context(), id, ds.Name(), path, ds.Rows(), ds.Cols()); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"message":             fmt.Sprintf("Dataset %s uploaded successfully", ds.Name()),
		"rows":                ds.Rows(),
		"cols":                ds.Cols(),
		"schema":              ds.Schema(),
		"numeric_columns":     ds.NumericColumns(),
		"categorical_columns": ds.CategoricalColumns(),
	})
}

func (s *Server) handleDatasetInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found: %s", id))
		return
	}
	ds := handle.Dataset()
	if ds == nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("no dataset bound for session %s", id))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"name":                ds.Name(),
		"rows":                ds.Rows(),
		"cols":                ds.Cols(),
		"schema":              ds.Schema(),
		"numeric_columns":     ds.NumericColumns(),
		"categorical_columns": ds.CategoricalColumns(),
		"missing_counts":      ds.MissingCounts(),
	})
}

// --- Query ---

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found: %s", id))
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("query must not be empty"))
		return
	}

	env := handle.Process(r.Context(), req.Query)
	s.recordExchange(r, id, req.Query, env)

	// The envelope shape is the contract; pass it through unchanged.
	s.jsonResponse(w, http.StatusOK, env)
}

// recordExchange appends the user query and the agent's reply to the
// session's transcript. Persistence failures are logged, not surfaced; the
// envelope still reaches the caller.
func (s *Server) recordExchange(r *http.Request, sessionID, query string, env *domain.ResponseEnvelope) {
	ctx := r.Context()
	userEntry := &domain.TranscriptEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   query,
	}
	if err := s.transcripts.Append(ctx, userEntry); err != nil {
		slog.Error("Failed to append user entry", "error", err)
		return
	}

	assistantEntry := &domain.TranscriptEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   env.Response,
	}
	if env.Chart != nil {
		if chartJSON, err := json.Marshal(env.Chart); err == nil {
			assistantEntry.ChartJSON = string(chartJSON)
		}
	}
	if err := s.transcripts.Append(ctx, assistantEntry); err != nil {
		slog.Error("Failed to append assistant entry", "error", err)
	}
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.transcripts.GetEntries(r.Context(), id, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, entries)
}

// --- Intent ---

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.analyzer.Analyze(r.Context(), req.Query))
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
