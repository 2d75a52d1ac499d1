// Package model abstracts the language-model providers the reasoning loop
// can talk to.
package model

import (
	"context"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

// Turn is one entry of the conversation context sent to the model. The
// reasoning protocol is plain text, so a turn carries text only.
type Turn struct {
	Role domain.Role
	Text string
}

// Provider represents a service that provides LLMs (e.g. Gemini).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Complete sends the conversation context to the LLM and returns the
	// full text of its reply. modelName identifies which model to use;
	// instructions is the system prompt.
	Complete(ctx context.Context, modelName, instructions string, turns []Turn) (string, error)
}
