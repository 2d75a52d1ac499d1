// Package sandbox defines the execution boundary for model-authored analysis
// code. Implementations run a submitted snippet against the bound dataset and
// the session's persistent scope, and harvest output, errors, and charts into
// a deterministic outcome.
package sandbox

import (
	"context"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
)

// Executor runs analysis code for one session. Implementations are stateful
// across rounds within the session and must never be shared between sessions.
// Execute is never called concurrently for the same executor.
type Executor interface {
	// Bind replaces the bound dataset. The persistent scope is left
	// untouched; callers wanting a clean slate recreate the executor.
	Bind(ds *dataset.Dataset)

	// Execute runs one code snippet. All failures are folded into the
	// returned Outcome; err is reserved for executor-infrastructure faults
	// (e.g. a dead container), never for errors raised by the code itself.
	Execute(ctx context.Context, code string) (*domain.Outcome, error)

	// TakeChart returns the most recent chart produced by executed code and
	// clears it. Returns nil when no unread chart exists.
	TakeChart() *domain.Chart

	// Close releases the executor's resources.
	Close() error
}

// ScopePolicy decides which top-level names created by executed code are
// merged back into the persistent scope after a round.
type ScopePolicy struct {
	// DenyPrefixes blocks names by prefix (e.g. "_").
	DenyPrefixes []string
	// DenyNames blocks exact names (injected helpers, the dataset binding).
	DenyNames map[string]bool
}

// DefaultScopePolicy blocks underscore-prefixed names and the injected
// environment bindings.
func DefaultScopePolicy() ScopePolicy {
	return ScopePolicy{
		DenyPrefixes: []string{"_"},
		DenyNames: map[string]bool{
			"df":                  true,
			"plot":                true,
			"stats":               true,
			"print":               true,
			"findBestColumnMatch": true,
		},
	}
}

// Keep reports whether a name may enter the persistent scope.
func (p ScopePolicy) Keep(name string) bool {
	if p.DenyNames[name] {
		return false
	}
	for _, prefix := range p.DenyPrefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return false
		}
	}
	return true
}

// ChartSuccessMessage is returned in place of raw chart output when a
// visualization was captured.
const ChartSuccessMessage = "Code executed successfully. Interactive visualization created."
