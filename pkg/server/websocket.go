package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleChatWebSocket runs a chat connection for one session: incoming
// messages are processed through the reasoning loop, and every transcript
// entry (including ones appended by other connections) is pushed to the
// client exactly once.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	handle, ok := s.registry.Get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	done := make(chan struct{})
	updates := s.transcripts.Subscribe()

	// Send initial transcript state.
	sentIDs := make(map[string]bool)
	var writeMu sync.Mutex
	if err := s.syncTranscript(ws, &writeMu, sessionID, sentIDs); err != nil {
		slog.Error("Failed initial transcript sync", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: pushes new entries to the client.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case eventID := <-updates:
				if eventID == sessionID {
					if err := s.syncTranscript(ws, &writeMu, sessionID, sentIDs); err != nil {
						slog.Error("Failed transcript sync", "error", err)
						return
					}
				}
			case <-ticker.C:
				// Keepalive
			}
		}
	}()

	// Reader loop: receives user queries and runs them through the loop.
	for {
		var msg struct {
			Content string `json:"content"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			slog.Error("WebSocket read error", "error", err)
			break
		}
		if msg.Content == "" {
			continue
		}

		userEntry := &domain.TranscriptEntry{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Role:      domain.RoleUser,
			Content:   msg.Content,
		}
		if err := s.transcripts.Append(r.Context(), userEntry); err != nil {
			slog.Error("Failed to append user message", "error", err)
			continue
		}

		// Process synchronously: the session is sequential anyway, and the
		// reply lands on the websocket via the subscription.
		env := handle.Process(r.Context(), msg.Content)
		assistantEntry := &domain.TranscriptEntry{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   env.Response,
		}
		if env.Chart != nil {
			if chartJSON, err := marshalChart(env.Chart); err == nil {
				assistantEntry.ChartJSON = chartJSON
			}
		}
		if err := s.transcripts.Append(r.Context(), assistantEntry); err != nil {
			slog.Error("Failed to append assistant message", "error", err)
		}
	}

	close(done)
	wg.Wait()
}

func marshalChart(c *domain.Chart) (string, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func (s *Server) syncTranscript(ws *websocket.Conn, writeMu *sync.Mutex, sessionID string, sentIDs map[string]bool) error {
	entries, err := s.transcripts.GetEntries(context.Background(), sessionID, 0)
	if err != nil {
		return err
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	for _, e := range entries {
		if !sentIDs[e.ID] {
			if err := ws.WriteJSON(e); err != nil {
				return err
			}
			sentIDs[e.ID] = true
		}
	}
	return nil
}
