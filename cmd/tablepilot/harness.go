package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tablepilot/tablepilot/pkg/agent"
	"github.com/tablepilot/tablepilot/pkg/dataset"
	"github.com/tablepilot/tablepilot/pkg/harness"
	"github.com/tablepilot/tablepilot/pkg/model/gemini"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
	"github.com/tablepilot/tablepilot/pkg/sandbox/script"
)

var harnessCmd = &cobra.Command{
	Use:   "harness",
	Short: "Replay the benchmark battery against a dataset",
	Long: `Runs each benchmark question through the same reasoning loop the API
serves, scores the replies, and writes a JSON report.`,
	RunE: runHarness,
}

func init() {
	harnessCmd.Flags().String("dataset", "", "CSV file to analyze (required)")
	harnessCmd.Flags().String("questions", "", "JSON file with a custom question battery")
	harnessCmd.Flags().String("output", "", "report file (default stdout)")
	harnessCmd.Flags().String("model", "", "model name for the reasoning loop")
	harnessCmd.Flags().Int("step-budget", 0, "max reasoning rounds per query")
	harnessCmd.Flags().Int("parse-retries", 0, "corrective retries on malformed model output")
	harnessCmd.MarkFlagRequired("dataset")
}

func runHarness(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("no API key: set TABLEPILOT_API_KEY or GEMINI_API_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	datasetPath, _ := cmd.Flags().GetString("dataset")
	ds, err := dataset.LoadFile(datasetPath)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	var questions []harness.Question
	if qFile, _ := cmd.Flags().GetString("questions"); qFile != "" {
		b, err := os.ReadFile(qFile)
		if err != nil {
			return fmt.Errorf("reading questions: %w", err)
		}
		if err := json.Unmarshal(b, &questions); err != nil {
			return fmt.Errorf("parsing questions: %w", err)
		}
	}

	provider, err := gemini.New(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("initializing model provider: %w", err)
	}

	a := agent.New(provider, script.New(sandbox.DefaultScopePolicy()), agent.Config{
		Model:        cfg.Model,
		StepBudget:   cfg.StepBudget,
		ParseRetries: cfg.ParseRetries,
	})
	defer a.Executor().Close()
	a.Bind(ds)

	report, err := harness.NewRunner(a, questions).Run(ctx)
	if err != nil {
		return fmt.Errorf("running battery: %w", err)
	}

	var out io.Writer = os.Stdout
	if outFile, _ := cmd.Flags().GetString("output"); outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := report.WriteJSON(out); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Passed %d/%d (avg score %.1f)\n", report.Passed, report.Total, report.AvgScore)
	if report.Passed < report.Total {
		os.Exit(1)
	}
	return nil
}
