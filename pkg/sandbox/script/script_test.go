package script

import (
	"context"
	"strings"
	"testing"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
)

const testCSV = `region,units,revenue
north,10,100.5
south,20,210.0
east,8,120.0
`

func newBoundExecutor(t *testing.T) *Executor {
	t.Helper()
	ds, err := dataset.Load("test.csv", strings.NewReader(testCSV))
	if err != nil {
		t.Fatalf("loading dataset: %v", err)
	}
	e := New(sandbox.DefaultScopePolicy())
	e.Bind(ds)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecuteNoDatasetBound(t *testing.T) {
	e := New(sandbox.DefaultScopePolicy())
	defer e.Close()
	out, err := e.Execute(context.Background(), "print(1)")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !out.Failed() {
		t.Fatal("expected binding failure outcome")
	}
	if !strings.Contains(out.Err, "No dataset bound") {
		t.Errorf("Err = %q, want binding message", out.Err)
	}
}

func TestExecuteCapturesOutput(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(), `print("rows:", df.rows())`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Err)
	}
	if !strings.Contains(out.Output, "rows: 3") {
		t.Errorf("Output = %q, want rows: 3", out.Output)
	}
}

func TestExecuteStripsFences(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(), "```js\nprint(df.cols())\n```")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Err)
	}
	if !strings.Contains(out.Output, "3") {
		t.Errorf("Output = %q, want column count", out.Output)
	}
}

func TestScopePersistsAcrossRounds(t *testing.T) {
	e := newBoundExecutor(t)
	ctx := context.Background()

	out, err := e.Execute(ctx, `var total = stats.sum(df.values("units"));`)
	if err != nil {
		t.Fatalf("round 1 error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("round 1 failed: %s", out.Err)
	}
	if !strings.Contains(out.Output, "Variables created: total") {
		t.Errorf("round 1 Output = %q, want variable summary", out.Output)
	}

	out, err = e.Execute(ctx, `print(total)`)
	if err != nil {
		t.Fatalf("round 2 error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("round 2 failed: %s", out.Err)
	}
	if !strings.Contains(out.Output, "38") {
		t.Errorf("round 2 Output = %q, want persisted total 38", out.Output)
	}
}

func TestScopeIsolationAcrossExecutors(t *testing.T) {
	e1 := newBoundExecutor(t)
	e2 := newBoundExecutor(t)
	ctx := context.Background()

	if _, err := e1.Execute(ctx, `var secret = 42;`); err != nil {
		t.Fatalf("seeding e1: %v", err)
	}
	out, err := e2.Execute(ctx, `print(secret)`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !out.Failed() {
		t.Errorf("expected failure reading undefined variable, got %q", out.Output)
	}
}

func TestScopePolicyFiltersReservedNames(t *testing.T) {
	e := newBoundExecutor(t)
	ctx := context.Background()

	out, err := e.Execute(ctx, `var _tmp = 1; var kept = 2;`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if strings.Contains(out.Output, "_tmp") {
		t.Errorf("underscore name leaked into summary: %q", out.Output)
	}
	if !strings.Contains(out.Output, "kept") {
		t.Errorf("Output = %q, want kept in summary", out.Output)
	}

	out, err = e.Execute(ctx, `print(typeof _tmp)`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.Output, "undefined") {
		t.Errorf("Output = %q, want _tmp gone next round", out.Output)
	}
}

func TestExecuteErrorFoldedIntoOutcome(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(), `df.mean("no_such_column")`)
	if err != nil {
		t.Fatalf("Execute() returned infrastructure error: %v", err)
	}
	if !out.Failed() {
		t.Fatal("expected failure outcome")
	}
	if !strings.Contains(out.Err, "no_such_column") {
		t.Errorf("Err = %q, want column name in message", out.Err)
	}
}

func TestExecuteSyntaxErrorFolded(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(), `var = ;`)
	if err != nil {
		t.Fatalf("Execute() returned infrastructure error: %v", err)
	}
	if !out.Failed() {
		t.Fatal("expected failure outcome for syntax error")
	}
	if !strings.Contains(out.Err, "Error executing code") {
		t.Errorf("Err = %q, want execution error prefix", out.Err)
	}
}

func TestChartDetection(t *testing.T) {
	e := newBoundExecutor(t)
	code := `
var counts = df.valueCounts("region");
var x = [];
var y = [];
for (var i = 0; i < counts.length; i++) {
	x.push(counts[i].value);
	y.push(counts[i].count);
}
fig = plot.bar(x, y).title("Regions").xlabel("region").ylabel("count");
`
	out, err := e.Execute(context.Background(), code)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Err)
	}
	if out.Output != sandbox.ChartSuccessMessage {
		t.Errorf("Output = %q, want fixed chart message", out.Output)
	}
	if out.Chart == nil || out.Chart.Type != "bar" {
		t.Fatalf("Chart = %+v, want bar chart", out.Chart)
	}
	if out.Chart.Title != "Regions" {
		t.Errorf("Title = %q, want Regions", out.Chart.Title)
	}

	c := e.TakeChart()
	if c == nil {
		t.Fatal("TakeChart() = nil, want captured chart")
	}
	if e.TakeChart() != nil {
		t.Error("TakeChart() second read should return nil")
	}
}

func TestChartNotDetectedWithoutPlottingCall(t *testing.T) {
	e := newBoundExecutor(t)
	// A chart-typed variable alone is not enough; the code text must
	// reference a plotting call.
	if _, err := e.Execute(context.Background(), `fig = plot.bar(["a"], [1]);`); err != nil {
		t.Fatalf("seeding fig: %v", err)
	}
	e.TakeChart()

	out, err := e.Execute(context.Background(), `print("no chart here")`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Chart != nil {
		t.Errorf("Chart = %+v, want nil for non-plotting round", out.Chart)
	}
	if e.TakeChart() != nil {
		t.Error("stale chart leaked into a later round")
	}
}

func TestChartConsumedNotRecaptured(t *testing.T) {
	e := newBoundExecutor(t)
	ctx := context.Background()

	out, err := e.Execute(ctx, `fig = plot.bar(["a"], [1]).title("first");`)
	if err != nil {
		t.Fatalf("round 1 error: %v", err)
	}
	if out.Chart == nil || out.Chart.Title != "first" {
		t.Fatalf("round 1 Chart = %+v, want first chart", out.Chart)
	}
	if c := e.TakeChart(); c == nil || c.Title != "first" {
		t.Fatalf("TakeChart() = %+v, want first chart", c)
	}

	// A later round that calls plot helpers without reassigning fig must not
	// resurrect the consumed chart still sitting in scope.
	out, err = e.Execute(ctx, `var scratch = plot.line(["a", "b"], [1, 2]); print(df.rows())`)
	if err != nil {
		t.Fatalf("round 2 error: %v", err)
	}
	if out.Chart != nil {
		t.Errorf("round 2 Chart = %+v, want nil without a fig assignment", out.Chart)
	}
	if e.TakeChart() != nil {
		t.Error("consumed chart captured again")
	}

	// Reassigning fig captures the new chart.
	out, err = e.Execute(ctx, `fig = plot.line(["a", "b"], [1, 2]).title("second");`)
	if err != nil {
		t.Fatalf("round 3 error: %v", err)
	}
	if out.Chart == nil || out.Chart.Title != "second" {
		t.Errorf("round 3 Chart = %+v, want second chart", out.Chart)
	}
}

func TestChartOutputKeepsPrintedText(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(),
		`print("checked", df.rows(), "rows"); fig = plot.bar(["a"], [1]).title("t");`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Err)
	}
	if !strings.HasPrefix(out.Output, sandbox.ChartSuccessMessage) {
		t.Errorf("Output = %q, want chart message prefix", out.Output)
	}
	if !strings.Contains(out.Output, "checked 3 rows") {
		t.Errorf("Output = %q, want printed text preserved", out.Output)
	}
}

func TestVariableSummaryIncludesValues(t *testing.T) {
	e := newBoundExecutor(t)
	ctx := context.Background()

	out, err := e.Execute(ctx, `var x = df.mean("units");`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.Output, "x = 12.666") {
		t.Errorf("Output = %q, want computed value in summary", out.Output)
	}

	out, err = e.Execute(ctx, `var s = "0123456789".repeat(10);`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.Output, "...") {
		t.Errorf("Output = %q, want long value truncated", out.Output)
	}
}

func TestChartOverwrittenNotAccumulated(t *testing.T) {
	e := newBoundExecutor(t)
	code := `
fig = plot.bar(["a"], [1]);
fig = plot.line(["a", "b"], [1, 2]);
`
	out, err := e.Execute(context.Background(), code)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Chart == nil || out.Chart.Type != "line" {
		t.Errorf("Chart type = %+v, want the last chart (line)", out.Chart)
	}
}

func TestRebindKeepsScope(t *testing.T) {
	e := newBoundExecutor(t)
	ctx := context.Background()
	if _, err := e.Execute(ctx, `var before = df.rows();`); err != nil {
		t.Fatalf("round 1: %v", err)
	}

	ds2, err := dataset.Load("other.csv", strings.NewReader("a\n1\n"))
	if err != nil {
		t.Fatalf("loading second dataset: %v", err)
	}
	e.Bind(ds2)

	out, err := e.Execute(ctx, `print(before, df.rows())`)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if !strings.Contains(out.Output, "3 1") {
		t.Errorf("Output = %q, want old scope with new dataset", out.Output)
	}
}

func TestFindBestColumnMatchBinding(t *testing.T) {
	e := newBoundExecutor(t)
	out, err := e.Execute(context.Background(), `print(findBestColumnMatch("Revenu"))`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Err)
	}
	if !strings.Contains(out.Output, "revenue") {
		t.Errorf("Output = %q, want resolved column", out.Output)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	e := newBoundExecutor(t)
	e.Close()
	if _, err := e.Execute(context.Background(), "print(1)"); err == nil {
		t.Error("expected error executing on closed executor")
	}
}

func TestContextCheckedBeforeRun(t *testing.T) {
	e := newBoundExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Execute(ctx, "print(1)"); err == nil {
		t.Error("expected context error")
	}
}
