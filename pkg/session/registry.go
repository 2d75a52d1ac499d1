// Package session maps session IDs to their owned agent and executor pair.
// The registry replaces any process-wide singleton: each session gets its own
// controller and persistent scope, created and evicted explicitly, so no
// state leaks between sessions.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tablepilot/tablepilot/pkg/agent"
	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
)

// NewAgentFunc constructs a fresh agent (with its own executor) for a new
// session. The session ID is passed through so executors that manage
// per-session resources, like containers, can key off it.
type NewAgentFunc func(sessionID string) *agent.Agent

// Handle is one session's live pair. Processing is serialized per handle;
// different handles run concurrently.
type Handle struct {
	mu    sync.Mutex
	agent *agent.Agent
	ds    *dataset.Dataset
}

// Bind replaces the session's dataset. The persistent execution scope is
// intentionally left untouched; evict and recreate for a clean slate.
func (h *Handle) Bind(ds *dataset.Dataset) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ds = ds
	h.agent.Bind(ds)
}

// Dataset returns the currently bound dataset, or nil.
func (h *Handle) Dataset() *dataset.Dataset {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ds
}

// Process runs one query through the session's reasoning loop. Strictly
// sequential per session: a second caller blocks until the first round trip
// completes.
func (h *Handle) Process(ctx context.Context, query string) *domain.ResponseEnvelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent.Process(ctx, query)
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent.Executor().Close()
}

// Registry owns all live session handles. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	newAgent NewAgentFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(newAgent NewAgentFunc) *Registry {
	return &Registry{
		handles:  make(map[string]*Handle),
		newAgent: newAgent,
	}
}

// Create makes a fresh handle for the session ID, evicting any previous one
// (and with it the old persistent scope).
func (r *Registry) Create(id string) (*Handle, error) {
	r.mu.Lock()
	old := r.handles[id]
	h := &Handle{agent: r.newAgent(id)}
	r.handles[id] = h
	r.mu.Unlock()

	if old != nil {
		if err := old.close(); err != nil {
			return h, fmt.Errorf("closing replaced session %s: %w", id, err)
		}
	}
	return h, nil
}

// Get returns the handle for a session, if it exists.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Evict removes a session and closes its executor.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return h.close()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close evicts every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	var firstErr error
	for id, h := range handles {
		if err := h.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session %s: %w", id, err)
		}
	}
	return firstErr
}
