// Package gemini implements model.Provider using the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/model"
)

// DefaultModel matches the model the assistant was tuned against.
const DefaultModel = "gemini-2.5-flash-lite"

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models that support generateContent.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		supportsGenerate := false
		if !strings.Contains(strings.ToLower(m.Name), "gemma") {
			for _, action := range m.SupportedActions {
				if action == "generateContent" {
					supportsGenerate = true
					break
				}
			}
		}

		if supportsGenerate {
			maxTokens := 0
			if m.InputTokenLimit > 0 {
				maxTokens = int(m.InputTokenLimit)
			}
			models = append(models, domain.Model{
				ID:        m.Name,
				Name:      m.DisplayName,
				Provider:  "gemini",
				MaxTokens: maxTokens,
			})
		}
	}
	return models, nil
}

// Complete sends the conversation context to the model and returns the full
// reply text. The reasoning protocol is text-only, so no tool declarations
// are attached; the action grammar lives in the instructions.
func (p *Provider) Complete(ctx context.Context, modelName, instructions string, turns []model.Turn) (string, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	slog.Debug("Gemini.Complete", "model", modelName, "turnCount", len(turns))

	var contents []*genai.Content
	for _, t := range turns {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Text}},
		})
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty response", modelName)
	}
	return text, nil
}
