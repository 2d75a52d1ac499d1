// Package analyzer provides a best-effort intent pre-filter for user
// queries. It asks the model for a JSON classification and falls back to
// keyword matching when the call or the parse fails. The result may be
// wrong; callers must never use it to silently block a valid query.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/model"
)

// Intent values.
const (
	IntentVisualization = "visualization"
	IntentDataSummary   = "data_summary"
	IntentUnclear       = "unclear"
)

const classificationSystem = `You are an AI that classifies user queries about data analysis into simple intent categories.

Available intents:
- visualization: The user wants to create a chart, graph, or any visual representation of data. This includes requests like "plot", "chart", "graph", "visualize", "show me a", "create a", "draw", "display", "over time", "by", "vs", "against", etc.
- data_summary: The user wants statistical information, summaries, or analysis of the data. This includes requests like "statistics", "summary", "describe", "analyze", "count", "mean", "average", "correlation", "distribution", etc.
- unclear: Only use this for truly unclear requests like random text, single words without context, or requests that have nothing to do with data analysis.

IMPORTANT: Be VERY generous with classification. If a query mentions any data columns, chart types, or analysis terms, classify it as visualization or data_summary rather than unclear. Only use "unclear" for completely nonsensical or irrelevant requests.

Respond with JSON only:
{"intent": "visualization" | "data_summary" | "unclear", "confidence": 0.0-1.0}`

var (
	visualizationKeywords = []string{"plot", "chart", "graph", "visualize", "show", "create", "over time", "by", "vs"}
	summaryKeywords       = []string{"statistics", "summary", "analyze", "count", "mean", "average", "correlation"}
)

// Analyzer classifies query intent.
type Analyzer struct {
	provider  model.Provider
	modelName string
	logger    *slog.Logger
}

// New creates an analyzer backed by the given provider.
func New(provider model.Provider, modelName string) *Analyzer {
	return &Analyzer{
		provider:  provider,
		modelName: modelName,
		logger:    slog.Default().With("component", "analyzer"),
	}
}

// Analyze classifies a query. It never returns an error; any failure
// degrades to the keyword fallback.
func (a *Analyzer) Analyze(ctx context.Context, query string) domain.IntentAnalysis {
	reply, err := a.provider.Complete(ctx, a.modelName, classificationSystem, []model.Turn{
		{Role: domain.RoleUser, Text: fmt.Sprintf("User query: %s", query)},
	})
	if err != nil {
		a.logger.Warn("intent classification call failed", "err", err)
		return classifyByKeywords(query)
	}

	var parsed domain.IntentAnalysis
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil || !validIntent(parsed.Intent) {
		a.logger.Warn("intent classification unparseable", "reply", reply)
		return classifyByKeywords(query)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return parsed
}

func validIntent(intent string) bool {
	switch intent {
	case IntentVisualization, IntentDataSummary, IntentUnclear:
		return true
	}
	return false
}

// classifyByKeywords is the generous fallback used when the model is
// unavailable or replies off-format.
func classifyByKeywords(query string) domain.IntentAnalysis {
	q := strings.ToLower(query)
	for _, kw := range visualizationKeywords {
		if strings.Contains(q, kw) {
			return domain.IntentAnalysis{Intent: IntentVisualization, Confidence: 0.7}
		}
	}
	for _, kw := range summaryKeywords {
		if strings.Contains(q, kw) {
			return domain.IntentAnalysis{Intent: IntentDataSummary, Confidence: 0.7}
		}
	}
	return domain.IntentAnalysis{Intent: IntentUnclear, Confidence: 0}
}

// extractJSON tolerates a fenced or prose-wrapped JSON object in the reply.
func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return reply
	}
	return reply[start : end+1]
}
