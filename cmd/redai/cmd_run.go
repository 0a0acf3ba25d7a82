package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"red-ai/internal/domain"
)

var runFlags struct {
	user   string
	prompt string
	repeat int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline runs and print their results as JSON lines",
	Long: `Executes one run for --user and --prompt. With --repeat=N the same input is
submitted N times concurrently; every run gets its own turn and audio object.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.user, "user", "", "User id (required)")
	f.StringVar(&runFlags.prompt, "prompt", "", "Prompt text (required)")
	f.IntVar(&runFlags.repeat, "repeat", 1, "Number of concurrent runs")
	_ = runCmd.MarkFlagRequired("user")
	_ = runCmd.MarkFlagRequired("prompt")
}

// runOutcome is one line of run output.
type runOutcome struct {
	*domain.PipelineResult
	Error string `json:"error,omitempty"`
}

func runRun(cmd *cobra.Command, _ []string) error {
	if runFlags.repeat < 1 {
		return errors.New("--repeat must be at least 1")
	}
	if strings.TrimSpace(runFlags.user) == "" || strings.TrimSpace(runFlags.prompt) == "" {
		return errors.New("--user and --prompt must not be empty")
	}

	_, app, err := buildApp(cmd, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	in := domain.PipelineInput{UserID: runFlags.user, Prompt: runFlags.prompt}
	outcomes := make([]runOutcome, runFlags.repeat)

	ctx := cmd.Context()
	var g errgroup.Group
	for i := range outcomes {
		g.Go(func() error {
			res, err := app.Orchestrator.Execute(ctx, in)
			if err != nil {
				outcomes[i] = runOutcome{Error: err.Error()}
				return nil
			}
			outcomes[i] = runOutcome{PipelineResult: &res}
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}
