package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// Directive is the typed result of parsing one model reply. Exactly one of
// the two shapes is populated, discriminated by Kind.
type Directive struct {
	Kind    Kind
	Thought string

	// Action shape.
	Tool  string
	Input string

	// FinalAnswer shape.
	Answer string
}

// Kind discriminates the two well-formed reply shapes.
type Kind int

const (
	KindAction Kind = iota
	KindFinalAnswer
)

// ParseError reports a reply matching neither shape. The reasoning loop
// responds with a bounded corrective retry, never a crash.
type ParseError struct {
	Reason string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model output: %s", e.Reason)
}

const (
	actionMarker      = "Action:"
	actionInputMarker = "Action Input:"
	finalAnswerMarker = "Final Answer:"
	thoughtMarker     = "Thought:"
	observationMarker = "Observation:"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")

// Parse interprets a model reply against the action/final-answer grammar.
// Keys off the literal markers exactly; any other shape is a *ParseError.
func Parse(output string) (*Directive, error) {
	text := strings.TrimSpace(output)

	hasAction := strings.Contains(text, actionMarker) && strings.Contains(text, actionInputMarker)
	hasFinal := strings.Contains(text, finalAnswerMarker)

	switch {
	case hasAction && hasFinal:
		return nil, &ParseError{
			Reason: "output contains both an action and a final answer",
			Output: output,
		}
	case hasFinal:
		idx := strings.Index(text, finalAnswerMarker)
		return &Directive{
			Kind:    KindFinalAnswer,
			Thought: extractThought(text[:idx]),
			Answer:  strings.TrimSpace(text[idx+len(finalAnswerMarker):]),
		}, nil
	case hasAction:
		return parseAction(text, output)
	default:
		return nil, &ParseError{
			Reason: "output contains neither an action nor a final answer",
			Output: output,
		}
	}
}

func parseAction(text, raw string) (*Directive, error) {
	actionIdx := strings.Index(text, actionMarker)
	rest := text[actionIdx+len(actionMarker):]
	inputIdx := strings.Index(rest, actionInputMarker)
	if inputIdx < 0 {
		return nil, &ParseError{Reason: "action without action input", Output: raw}
	}

	tool := strings.TrimSpace(rest[:inputIdx])
	// Tolerate a backticked tool name despite the prompt forbidding it.
	tool = strings.Trim(tool, "`")
	if tool == "" {
		return nil, &ParseError{Reason: "empty tool name", Output: raw}
	}

	input := rest[inputIdx+len(actionInputMarker):]
	// A verbose model sometimes echoes the Observation line; everything from
	// there on belongs to us, not to the action input.
	if obsIdx := strings.Index(input, observationMarker); obsIdx >= 0 {
		input = input[:obsIdx]
	}

	return &Directive{
		Kind:    KindAction,
		Thought: extractThought(text[:actionIdx]),
		Tool:    tool,
		Input:   StripFences(strings.TrimSpace(input)),
	}, nil
}

// extractThought pulls the text following the last Thought marker, or the
// whole preamble when the model omitted the marker.
func extractThought(preamble string) string {
	if idx := strings.LastIndex(preamble, thoughtMarker); idx >= 0 {
		return strings.TrimSpace(preamble[idx+len(thoughtMarker):])
	}
	return strings.TrimSpace(preamble)
}

// StripFences removes fenced code-block markers, keeping the enclosed code.
// Input without fences passes through unchanged.
func StripFences(code string) string {
	if !strings.Contains(code, "```") {
		return code
	}
	if m := fenceRe.FindStringSubmatch(code); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Unbalanced fence, strip marker lines.
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
