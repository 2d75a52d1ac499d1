// Package script is the in-process reference Executor, built on the goja
// ECMAScript engine. Each execution gets a fresh runtime seeded with the
// dataset binding, the whitelisted helpers, and the session's persistent
// scope; new top-level names are merged back through the scope policy after
// the run. No filesystem or network capability is ever installed.
package script

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/protocol"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
)

// Executor runs analysis scripts for one session. Not safe for concurrent
// Execute calls; the reasoning loop is strictly sequential per session.
type Executor struct {
	mu     sync.Mutex
	ds     *dataset.Dataset
	scope  map[string]any
	chart  *domain.Chart
	policy sandbox.ScopePolicy
	closed bool
}

var _ sandbox.Executor = (*Executor)(nil)

// New returns an Executor with an empty persistent scope.
func New(policy sandbox.ScopePolicy) *Executor {
	return &Executor{
		scope:  make(map[string]any),
		policy: policy,
	}
}

// Bind replaces the bound dataset. Old scope variables survive the swap.
func (e *Executor) Bind(ds *dataset.Dataset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ds = ds
}

// TakeChart returns the unread chart, if any, and clears it.
func (e *Executor) TakeChart() *domain.Chart {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.chart
	e.chart = nil
	return c
}

// Close releases the executor. Subsequent Executes fail.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.scope = nil
	e.ds = nil
	e.chart = nil
	return nil
}

// Execute runs one snippet against the bound dataset and persistent scope.
// Every failure raised by the code itself is folded into the Outcome. The
// context is checked before the run starts; a single execution cannot be
// preempted once under way, a documented limitation of the in-process
// executor.
func (e *Executor) Execute(ctx context.Context, code string) (outcome *domain.Outcome, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("executor is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.ds == nil {
		return &domain.Outcome{Err: "Error: No dataset bound. Upload a dataset before running analysis."}, nil
	}

	code = protocol.StripFences(code)

	var out bytes.Buffer
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	defer func() {
		// Panics from host bindings become failure outcomes, never faults.
		if r := recover(); r != nil {
			outcome = &domain.Outcome{Err: fmt.Sprintf("Error executing code: %v", r)}
			err = nil
		}
	}()

	e.install(vm, &out)
	for name, val := range e.scope {
		if err := vm.Set(name, val); err != nil {
			return nil, fmt.Errorf("seeding scope %q: %w", name, err)
		}
	}
	baseline := globalNames(vm)

	if _, runErr := vm.RunString(code); runErr != nil {
		msg := runErr.Error()
		if exc, ok := runErr.(*goja.Exception); ok {
			msg = exc.Value().String()
		}
		return &domain.Outcome{Err: fmt.Sprintf("Error executing code: %s", msg)}, nil
	}

	created, figB := e.mergeScope(vm, baseline)

	if chart := detectChart(code, figB); chart != nil {
		e.chart = chart
		output := sandbox.ChartSuccessMessage
		if s := strings.TrimRight(out.String(), "\n"); s != "" {
			output += "\n" + s
		}
		return &domain.Outcome{
			Output: output,
			Chart:  chart,
		}, nil
	}

	output := out.String()
	if len(created) > 0 {
		sort.Strings(created)
		parts := make([]string, len(created))
		for i, name := range created {
			parts[i] = name + " = " + preview(e.scope[name])
		}
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += "Variables created: " + strings.Join(parts, ", ")
	}
	if output == "" {
		output = "Code executed successfully."
	}
	return &domain.Outcome{Output: output}, nil
}

// mergeScope folds the runtime's top-level names back into the persistent
// scope per the policy. It returns the names that are new this round and the
// chart builder assigned to fig/figure during this execution, if any. A chart
// merely carried over in scope from an earlier round does not count; a
// consumed chart must never resurface just because its variable still exists.
func (e *Executor) mergeScope(vm *goja.Runtime, baseline map[string]bool) ([]string, *chartBuilder) {
	var created []string
	var fig, figure *chartBuilder
	for name := range globalNames(vm) {
		if !e.policy.Keep(name) {
			continue
		}
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		exported := v.Export()
		if !baseline[name] {
			created = append(created, name)
		}
		if name == "fig" || name == "figure" {
			if b, ok := exported.(*chartBuilder); ok {
				prev, _ := e.scope[name].(*chartBuilder)
				if !baseline[name] || prev != b {
					if name == "fig" {
						fig = b
					} else {
						figure = b
					}
				}
			}
		}
		e.scope[name] = exported
	}
	if fig == nil {
		fig = figure
	}
	return created, fig
}

// detectChart keeps the two-part test: the code text must reference a
// plotting call, and fig/figure must have been assigned a chart this round.
// fig wins when both names are set; only the most recent chart survives.
func detectChart(code string, b *chartBuilder) *domain.Chart {
	if b == nil || !strings.Contains(code, "plot.") {
		return nil
	}
	c := b.chart
	return &c
}

// preview renders a scope value for the round summary, truncated so large
// structures do not flood the observation.
func preview(v any) string {
	s := fmt.Sprintf("%v", v)
	const max = 60
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func globalNames(vm *goja.Runtime) map[string]bool {
	names := make(map[string]bool)
	for _, k := range vm.GlobalObject().Keys() {
		names[k] = true
	}
	return names
}

func (e *Executor) install(vm *goja.Runtime, out *bytes.Buffer) {
	vm.Set("df", newFrame(e.ds))
	vm.Set("plot", plotAPI{})
	vm.Set("stats", statsAPI{})
	vm.Set("print", func(args ...any) {
		fmt.Fprintln(out, args...)
	})
	vm.Set("findBestColumnMatch", func(name string) (string, error) {
		match := e.ds.FindColumn(name)
		if match == "" {
			return "", fmt.Errorf("no column matching %q", name)
		}
		return match, nil
	})
}
