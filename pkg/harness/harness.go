// Package harness replays a fixed battery of questions through the same
// Process contract the API serves, and scores each reply against heuristic
// rubrics. It is a consumer of the core, not part of it.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tablepilot/tablepilot/pkg/domain"
)

// PassScore is the rubric score at or above which a question counts as
// passed.
const PassScore = 75.0

// Processor is the query contract under test.
type Processor interface {
	Process(ctx context.Context, query string) *domain.ResponseEnvelope
}

// Question is one benchmark entry.
type Question struct {
	ID           int    `json:"id"`
	Question     string `json:"question"`
	Category     string `json:"category"`
	ExpectedType string `json:"expected_type"` // "info", "data", "calculation", "analysis", "visualization"
	Difficulty   string `json:"difficulty"`
}

// Result is one scored exchange.
type Result struct {
	Question  Question                 `json:"question"`
	Envelope  *domain.ResponseEnvelope `json:"envelope"`
	Score     float64                  `json:"score"`
	Criteria  map[string]bool          `json:"criteria"`
	ElapsedMS int64                    `json:"elapsed_ms"`
}

// CategoryStats aggregates results per category.
type CategoryStats struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	AvgScore float64 `json:"avg_score"`
}

// Report is the full battery outcome.
type Report struct {
	Total      int                      `json:"total"`
	Passed     int                      `json:"passed"`
	AvgScore   float64                  `json:"avg_score"`
	Categories map[string]CategoryStats `json:"categories"`
	Results    []Result                 `json:"results"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Runner drives the battery.
type Runner struct {
	processor Processor
	questions []Question
	logger    *slog.Logger
}

// NewRunner creates a runner over the given questions; nil questions means
// the default battery.
func NewRunner(processor Processor, questions []Question) *Runner {
	if questions == nil {
		questions = DefaultQuestions()
	}
	return &Runner{
		processor: processor,
		questions: questions,
		logger:    slog.Default().With("component", "harness"),
	}
}

// Run replays every question sequentially and returns the scored report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Categories: make(map[string]CategoryStats),
		StartedAt:  time.Now().UTC(),
	}

	for _, q := range r.questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		env := r.processor.Process(ctx, q.Question)
		result := score(q, env)
		result.ElapsedMS = time.Since(start).Milliseconds()
		report.Results = append(report.Results, result)

		status := "FAIL"
		if result.Score >= PassScore {
			status = "PASS"
		}
		r.logger.Info("question scored", "id", q.ID, "category", q.Category, "score", result.Score, "status", status)
	}

	report.FinishedAt = time.Now().UTC()
	summarize(report)
	return report, nil
}

// WriteJSON serializes the report.
func (rep *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// score applies the four 25-point criteria: execution success, response
// quality, expected output type, and chart presence when one was asked for.
func score(q Question, env *domain.ResponseEnvelope) Result {
	criteria := map[string]bool{
		"execution_success": false,
		"response_quality":  false,
		"expected_output":   false,
		"no_error":          false,
	}

	criteria["execution_success"] = env.Success

	response := strings.ToLower(env.Response)
	if len(env.Response) > 50 && !strings.Contains(response, "error") {
		criteria["response_quality"] = true
	}

	switch q.ExpectedType {
	case "visualization":
		criteria["expected_output"] = env.Chart != nil
	case "calculation":
		criteria["expected_output"] = containsAny(response, "average", "total", "sum", "count", "mean", "median")
	case "analysis":
		criteria["expected_output"] = len(env.Response) > 100 &&
			containsAny(response, "analysis", "insight", "pattern", "trend", "correlation")
	case "info":
		criteria["expected_output"] = containsAny(response, "column", "row", "type", "data", "information")
	case "data":
		criteria["expected_output"] = containsAny(response, "head", "first", "rows")
	default:
		criteria["expected_output"] = env.Response != ""
	}

	criteria["no_error"] = env.Error == ""

	met := 0
	for _, ok := range criteria {
		if ok {
			met++
		}
	}
	return Result{
		Question: q,
		Envelope: env,
		Score:    float64(met) / float64(len(criteria)) * 100,
		Criteria: criteria,
	}
}

func summarize(report *Report) {
	report.Total = len(report.Results)
	var sum float64
	for _, res := range report.Results {
		sum += res.Score
		cat := report.Categories[res.Question.Category]
		cat.Total++
		cat.AvgScore += res.Score
		if res.Score >= PassScore {
			cat.Passed++
			report.Passed++
		}
		report.Categories[res.Question.Category] = cat
	}
	if report.Total > 0 {
		report.AvgScore = sum / float64(report.Total)
	}
	for name, cat := range report.Categories {
		if cat.Total > 0 {
			cat.AvgScore /= float64(cat.Total)
		}
		report.Categories[name] = cat
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
