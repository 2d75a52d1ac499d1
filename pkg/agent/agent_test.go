package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/model"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
	"github.com/tablepilot/tablepilot/pkg/sandbox/script"
)

const testCSV = `region,units
north,10
south,20
east,8
`

// scriptedProvider replays a fixed sequence of model replies.
type scriptedProvider struct {
	replies []string
	calls   int
	err     error
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) List(ctx context.Context) ([]domain.Model, error) {
	return nil, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, modelName, instructions string, turns []model.Turn) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if len(turns) > 0 {
		p.prompts = append(p.prompts, turns[len(turns)-1].Text)
	}
	if p.calls >= len(p.replies) {
		return p.replies[len(p.replies)-1], nil
	}
	r := p.replies[p.calls]
	p.calls++
	return r, nil
}

func newTestAgent(t *testing.T, provider model.Provider, cfg Config) *Agent {
	t.Helper()
	ds, err := dataset.Load("test.csv", strings.NewReader(testCSV))
	if err != nil {
		t.Fatalf("loading dataset: %v", err)
	}
	exec := script.New(sandbox.DefaultScopePolicy())
	t.Cleanup(func() { exec.Close() })
	a := New(provider, exec, cfg)
	a.Bind(ds)
	return a
}

func checkConsistent(t *testing.T, env *domain.ResponseEnvelope) {
	t.Helper()
	if env == nil {
		t.Fatal("Process() returned nil envelope")
	}
	if env.Success && env.Error != "" {
		t.Errorf("success envelope carries error text: %q", env.Error)
	}
	if !env.Success && env.Error == "" {
		t.Error("failure envelope missing error text")
	}
}

func action(input string) string {
	return fmt.Sprintf("Thought: run it.\nAction: run_analysis\nAction Input:\n%s", input)
}

func TestProcessImmediateFinalAnswer(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"Thought: trivial.\nFinal Answer: The dataset has three regions.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "how many regions?")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false, error %q", env.Error)
	}
	if env.Response != "The dataset has three regions." {
		t.Errorf("Response = %q", env.Response)
	}
	if env.Chart != nil {
		t.Errorf("Chart = %+v, want nil", env.Chart)
	}
}

func TestProcessActionThenAnswer(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		action(`var total = stats.sum(df.values("units")); print(total);`),
		"Thought: done.\nFinal Answer: Total units are 38.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "total units?")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false, error %q", env.Error)
	}
	// Round 2's prompt must show round 1's observation.
	last := p.prompts[len(p.prompts)-1]
	if !strings.Contains(last, "Observation: 38") {
		t.Errorf("scratchpad missing observation, prompt: %q", last)
	}
}

func TestScopePersistsBetweenQueries(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		action(`var x = df.mean("units");`),
		"Final Answer: Stored the mean as x.",
		action(`print(x)`),
		"Final Answer: x is available.",
	}}
	a := newTestAgent(t, p, Config{})
	ctx := context.Background()

	env := a.Process(ctx, "compute the mean")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("first query failed: %q", env.Error)
	}

	env = a.Process(ctx, "use the stored mean")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("second query failed: %q", env.Error)
	}
	// The second query's second prompt carries the printed value of x.
	found := false
	for _, prompt := range p.prompts {
		if strings.Contains(prompt, "Observation: 12.6") {
			found = true
		}
	}
	if !found {
		t.Errorf("persisted variable not observed across queries: %v", p.prompts)
	}
}

func TestMalformedThenValidRecovers(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"I forgot the markers entirely.",
		"Thought: fixed.\nFinal Answer: Recovered.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "anything")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false after recovery, error %q", env.Error)
	}
	// The retry prompt must carry the corrective instruction.
	if len(p.prompts) != 2 {
		t.Fatalf("model called %d times, want 2", len(p.prompts))
	}
	if !strings.Contains(p.prompts[1], "Check your output and make sure it conforms!") {
		t.Errorf("corrective instruction missing from retry prompt: %q", p.prompts[1])
	}
}

func TestParseRetryBudgetResetsAfterRecovery(t *testing.T) {
	// Two non-consecutive malformed replies, each followed by a well-formed
	// one: the retry budget applies per failure streak, not per query.
	p := &scriptedProvider{replies: []string{
		"no markers at all",
		action("print(1)"),
		"again no markers",
		"Thought: done.\nFinal Answer: Recovered twice.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "anything")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false, error %q", env.Error)
	}
	if env.Response != "Recovered twice." {
		t.Errorf("Response = %q", env.Response)
	}
	if p.calls != 4 {
		t.Errorf("model called %d times, want 4", p.calls)
	}
}

func TestMalformedTwiceTerminates(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"still no markers",
		"again no markers",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "anything")
	checkConsistent(t, env)
	if env.Success {
		t.Fatal("Success = true for unrecoverable parse failure")
	}
	if !strings.Contains(env.Error, "Check your output") {
		t.Errorf("Error = %q, want corrective message", env.Error)
	}
	if p.calls != 2 {
		t.Errorf("model called %d times, want exactly 2 (one corrective retry)", p.calls)
	}
}

func TestStepBudgetExhaustion(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		action("print(1)"),
		action("print(2)"),
		action("print(3)"),
		action("print(4)"),
	}}
	a := newTestAgent(t, p, Config{StepBudget: 3})
	env := a.Process(context.Background(), "never finishes")
	checkConsistent(t, env)
	if env.Success {
		t.Fatal("Success = true after budget exhaustion")
	}
	if !strings.Contains(env.Error, "step limit") {
		t.Errorf("Error = %q, want step limit message", env.Error)
	}
	if p.calls != 3 {
		t.Errorf("model called %d times, want 3", p.calls)
	}
}

func TestRepetitionGuardTrips(t *testing.T) {
	p := &scriptedProvider{replies: []string{action("print(1)")}}
	a := newTestAgent(t, p, Config{StepBudget: 15})
	env := a.Process(context.Background(), "loops forever")
	checkConsistent(t, env)
	if env.Success {
		t.Fatal("Success = true for looping model")
	}
	if !strings.Contains(env.Error, "Loop detected") {
		t.Errorf("Error = %q, want loop message", env.Error)
	}
	if p.calls >= 15 {
		t.Errorf("guard did not trip before the budget: %d calls", p.calls)
	}
}

func TestProviderErrorBecomesFailureEnvelope(t *testing.T) {
	p := &scriptedProvider{err: fmt.Errorf("401 unauthorized")}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "anything")
	checkConsistent(t, env)
	if env.Success {
		t.Fatal("Success = true on provider error")
	}
	if !strings.Contains(env.Error, "401 unauthorized") {
		t.Errorf("Error = %q, want underlying message", env.Error)
	}
}

func TestExecutionErrorFedBackAsObservation(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		action(`df.mean("bogus_column")`),
		"Thought: no such column, answer plainly.\nFinal Answer: There is no bogus_column in this dataset.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "mean of bogus_column")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false, error %q", env.Error)
	}
	last := p.prompts[len(p.prompts)-1]
	if !strings.Contains(last, "bogus_column") {
		t.Errorf("execution error not fed back, prompt: %q", last)
	}
}

func TestChartAttachedOnceAndCleared(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		action(`fig = plot.bar(["north", "south", "east"], [10, 20, 8]).title("Units");`),
		"Final Answer: Here is the chart.",
		action(`print(df.rows())`),
		"Final Answer: Three rows, no chart needed.",
	}}
	a := newTestAgent(t, p, Config{})
	ctx := context.Background()

	env := a.Process(ctx, "plot units per region")
	checkConsistent(t, env)
	if env.Chart == nil || env.Chart.Type != "bar" {
		t.Fatalf("Chart = %+v, want bar chart attached", env.Chart)
	}

	env = a.Process(ctx, "how many rows?")
	checkConsistent(t, env)
	if env.Chart != nil {
		t.Errorf("Chart = %+v on second query, want cleared handle", env.Chart)
	}
}

func TestUnknownToolObserved(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"Thought: wrong tool.\nAction: python_repl\nAction Input: print(1)",
		"Final Answer: Sorry about that.",
	}}
	a := newTestAgent(t, p, Config{})
	env := a.Process(context.Background(), "anything")
	checkConsistent(t, env)
	if !env.Success {
		t.Fatalf("Success = false, error %q", env.Error)
	}
	if !strings.Contains(p.prompts[1], "not a valid tool") {
		t.Errorf("invalid-tool observation missing: %q", p.prompts[1])
	}
}

func TestRepetitionGuardUnit(t *testing.T) {
	g := newRepetitionGuard()
	if g.record("a") || g.record("b") || g.record("a") {
		t.Fatal("guard tripped below threshold")
	}
	if !g.record("a") {
		t.Fatal("guard did not trip at threshold")
	}
}
