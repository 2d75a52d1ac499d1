// Package store defines the persistence interfaces for sessions and their
// conversation transcripts.
package store

import (
	"context"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

// SessionStore manages the persistence of session records. The in-memory
// agent/executor pair is not persisted; records hold what is needed to
// recreate and rebind a session after a restart.
type SessionStore interface {
	// Create persists a new session. The ID field must be set by the caller.
	Create(ctx context.Context, sess *domain.Session) error

	// Get retrieves a session by its unique ID.
	// Returns an error if the session does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// List returns all sessions, ordered by creation time descending.
	List(ctx context.Context) ([]domain.Session, error)

	// Update persists changes to an existing session.
	Update(ctx context.Context, sess *domain.Session) error

	// SetDataset records the bound dataset's name, path, and shape.
	SetDataset(ctx context.Context, id, name, path string, rows, cols int) error

	// Delete removes a session by ID. Transcript entries are removed via
	// cascade.
	Delete(ctx context.Context, id string) error
}

// TranscriptStore manages the append-only conversation log per session.
// Entries are immutable once written.
type TranscriptStore interface {
	// Append adds a new entry to the end of the session's transcript.
	// The entry's ID and Timestamp should be set by the caller; Seq is
	// assigned by the store.
	Append(ctx context.Context, entry *domain.TranscriptEntry) error

	// GetEntries returns a session's transcript in chronological order.
	// If limit > 0, returns at most that many of the latest entries.
	GetEntries(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error)

	// GetEntriesAfter returns entries appended after the given entry ID.
	GetEntriesAfter(ctx context.Context, sessionID string, afterID string) ([]domain.TranscriptEntry, error)

	// Subscribe returns a channel that emits session IDs whenever new
	// entries are appended. Used by the websocket layer to push updates.
	Subscribe() <-chan string
}
