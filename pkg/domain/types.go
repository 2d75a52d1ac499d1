package domain

import "time"

// Session represents one user's continuous interaction scope. It owns exactly
// one bound dataset and one persistent execution scope, held by the agent and
// executor registered under its ID.
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DatasetName string    `json:"dataset_name,omitempty"`
	DatasetPath string    `json:"dataset_path,omitempty"`
	Rows        int       `json:"rows,omitempty"`
	Cols        int       `json:"cols,omitempty"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TranscriptEntry is a single persisted entry in a session's conversation
// log. Entries are append-only.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ChartJSON string    `json:"chart_json,omitempty"`
	Seq       int       `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Step is one completed round of the reasoning loop: the model's thought, the
// action it chose, the input it passed, and the observation that came back.
// A query's scratchpad is an ordered, append-only slice of these.
type Step struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
	Observation string `json:"observation"`
}

// Chart is the concrete form of a visualization handle: a declarative
// description produced by executed code, serialized to the client as JSON.
type Chart struct {
	Type   string    `json:"type"` // "bar", "line", "scatter", "hist", "box", "heatmap"
	Title  string    `json:"title,omitempty"`
	XLabel string    `json:"x_label,omitempty"`
	YLabel string    `json:"y_label,omitempty"`
	X      []string  `json:"x,omitempty"`
	Y      []float64 `json:"y,omitempty"`
	Series []Series  `json:"series,omitempty"`
}

// Series is one named data series within a chart.
type Series struct {
	Name string    `json:"name"`
	X    []string  `json:"x,omitempty"`
	Y    []float64 `json:"y"`
}

// Outcome is the result of one sandbox execution: either captured output
// (optionally with a chart) or an error description. Exactly one of Output
// and Err is meaningful.
type Outcome struct {
	Output string `json:"output,omitempty"`
	Chart  *Chart `json:"chart,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Failed reports whether the execution produced an error.
func (o *Outcome) Failed() bool { return o.Err != "" }

// ResponseEnvelope is the fixed response shape returned for every query.
// Success is true iff Error is empty; nothing else may leave the core.
type ResponseEnvelope struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Chart    *Chart `json:"chart,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// IntentAnalysis is the result of the best-effort intent pre-filter. It may
// be wrong and must never be used to silently block a valid query.
type IntentAnalysis struct {
	Intent     string  `json:"intent"` // "visualization", "data_summary", "unclear"
	Confidence float64 `json:"confidence"`
}
