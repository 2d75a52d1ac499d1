// Package agent implements the reasoning loop: the sequential controller
// that turns a natural-language query into repeated rounds of model call,
// parse, and sandboxed execution until a final answer is produced. Every
// termination path is folded into a response envelope; nothing escapes
// Process as a fault.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/model"
	"github.com/tablepilot/tablepilot/pkg/protocol"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
)

const (
	// DefaultStepBudget is the maximum number of reasoning rounds per query.
	DefaultStepBudget = 15
	// DefaultParseRetries is the number of corrective retries granted when
	// the model's output fails to parse.
	DefaultParseRetries = 1
)

// Config tunes the reasoning loop. Zero values take the defaults.
type Config struct {
	Model        string
	StepBudget   int
	ParseRetries int
}

// Agent owns one session's reasoning loop and its executor. Process is
// strictly sequential; callers must not invoke it concurrently for the same
// agent.
type Agent struct {
	provider model.Provider
	executor sandbox.Executor
	cfg      Config
	logger   *slog.Logger
}

// New creates an agent bound to a provider and an executor.
func New(provider model.Provider, executor sandbox.Executor, cfg Config) *Agent {
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = DefaultStepBudget
	}
	if cfg.ParseRetries <= 0 {
		cfg.ParseRetries = DefaultParseRetries
	}
	return &Agent{
		provider: provider,
		executor: executor,
		cfg:      cfg,
		logger:   slog.Default().With("component", "agent"),
	}
}

// Bind replaces the bound dataset. The executor's persistent scope survives
// the swap; callers wanting a clean slate recreate the agent.
func (a *Agent) Bind(ds *dataset.Dataset) {
	a.executor.Bind(ds)
}

// Executor exposes the owned executor for lifecycle management.
func (a *Agent) Executor() sandbox.Executor { return a.executor }

// Process runs the reasoning loop for one query. It never returns a raw
// fault; every outcome is an envelope whose success flag is consistent with
// its error text.
func (a *Agent) Process(ctx context.Context, query string) *domain.ResponseEnvelope {
	var (
		scratchpad    []domain.Step
		parseFailures int
		guard         = newRepetitionGuard()
	)

	for round := 0; round < a.cfg.StepBudget; round++ {
		prompt := protocol.RenderQuery(query, scratchpad)
		reply, err := a.provider.Complete(ctx, a.cfg.Model, protocol.SystemPrompt(), []model.Turn{
			{Role: domain.RoleUser, Text: prompt},
		})
		if err != nil {
			a.logger.Error("model call failed", "round", round, "err", err)
			return project(termination{reason: reasonProviderError, detail: err.Error()})
		}

		directive, err := protocol.Parse(reply)
		if err != nil {
			a.logger.Warn("unparseable model output", "round", round, "err", err)
			if parseFailures >= a.cfg.ParseRetries {
				return project(termination{reason: reasonParseFailure, detail: protocol.CorrectiveInstruction})
			}
			parseFailures++
			scratchpad = append(scratchpad, domain.Step{
				Thought:     reply,
				Action:      "none",
				ActionInput: "none",
				Observation: protocol.CorrectiveInstruction,
			})
			continue
		}
		// Retries guard consecutive failures only; a well-formed reply
		// restores the full budget.
		parseFailures = 0

		if directive.Kind == protocol.KindFinalAnswer {
			a.logger.Info("final answer", "rounds", round+1)
			return project(termination{
				reason: reasonFinalAnswer,
				answer: directive.Answer,
				chart:  a.executor.TakeChart(),
			})
		}

		if directive.Tool != protocol.ToolName {
			scratchpad = append(scratchpad, domain.Step{
				Thought:     directive.Thought,
				Action:      directive.Tool,
				ActionInput: directive.Input,
				Observation: fmt.Sprintf("%s is not a valid tool, try one of [%s].", directive.Tool, protocol.ToolName),
			})
			continue
		}

		if guard.record(directive.Input) {
			a.logger.Warn("repeated action detected", "round", round)
			return project(termination{reason: reasonRepetition})
		}

		outcome, err := a.executor.Execute(ctx, directive.Input)
		if err != nil {
			a.logger.Error("executor fault", "round", round, "err", err)
			return project(termination{reason: reasonProviderError, detail: err.Error()})
		}

		observation := outcome.Output
		if outcome.Failed() {
			// Fed back so the model can self-correct next round.
			observation = outcome.Err
		}
		scratchpad = append(scratchpad, domain.Step{
			Thought:     directive.Thought,
			Action:      directive.Tool,
			ActionInput: directive.Input,
			Observation: observation,
		})
	}

	a.logger.Warn("step budget exhausted", "budget", a.cfg.StepBudget)
	return project(termination{reason: reasonStepLimit})
}
