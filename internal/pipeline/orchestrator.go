// Package pipeline sequences the transcript, completion and speech stages of
// a run. Stages are connected through a static field mapping table that is
// validated when the orchestrator is built.
//
// A failed stage aborts the run. Work committed by earlier stages is kept:
// a conversation turn may exist without a completion or audio when a later
// stage fails, and callers resubmit to retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"red-ai/internal/domain"
	"red-ai/internal/logging"
)

const defaultMaxPromptLength = 2000

// TurnEnricher records the final completion and audio reference on the turn
// created by the transcript stage.
type TurnEnricher interface {
	EnrichTurn(ctx context.Context, userID, timestamp, completion, audioRef string) error
}

// RunObserver receives timing and outcome of stages and runs.
type RunObserver interface {
	StageFinished(stage StageName, d time.Duration, err error)
	RunFinished(d time.Duration, err error)
	TurnEnriched(err error)
}

// RunNotifier is told about every finished run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, ev domain.RunEvent) error
}

// Orchestrator executes runs over a validated, immutable step table. It holds
// no per-run state and is safe for concurrent use.
type Orchestrator struct {
	steps        []Step
	enricher     TurnEnricher
	observer     RunObserver
	notifier     RunNotifier
	logger       *slog.Logger
	newRunID     func() string
	now          func() time.Time
	maxPromptLen int
}

type Option func(*Orchestrator)

func WithEnricher(e TurnEnricher) Option {
	return func(o *Orchestrator) {
		o.enricher = e
	}
}

func WithObserver(obs RunObserver) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

func WithNotifier(n RunNotifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxPromptLength caps the prompt length in characters.
func WithMaxPromptLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPromptLen = n
		}
	}
}

// New validates the step table and returns an Orchestrator. A table that
// cannot be satisfied yields a MAPPING_ERROR; no run can start in that case.
func New(steps []Step, opts ...Option) (*Orchestrator, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	table := make([]Step, len(steps))
	copy(table, steps)
	for i := range table {
		if table[i].Timeout == 0 {
			table[i].Timeout = DefaultStageTimeout
		}
	}

	o := &Orchestrator{
		steps:        table,
		observer:     noopObserver{},
		logger:       logging.New("pipeline"),
		newRunID:     uuid.NewString,
		now:          time.Now,
		maxPromptLen: defaultMaxPromptLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Stages returns the stage names in execution order.
func (o *Orchestrator) Stages() []StageName {
	names := make([]StageName, len(o.steps))
	for i, s := range o.steps {
		names[i] = s.Stage.Name()
	}
	return names
}

// Execute runs every stage in order and returns the enriched result or a
// single *Error naming the failing stage.
func (o *Orchestrator) Execute(ctx context.Context, in domain.PipelineInput) (domain.PipelineResult, error) {
	userID := in.UserID
	prompt := strings.TrimSpace(in.Prompt)
	if strings.TrimSpace(userID) == "" {
		return domain.PipelineResult{}, newError(ErrorInvalidInput, "", "empty_user_id", nil)
	}
	if prompt == "" {
		return domain.PipelineResult{}, newError(ErrorInvalidInput, "", "empty_prompt", nil)
	}
	if utf8.RuneCountInString(prompt) > o.maxPromptLen {
		return domain.PipelineResult{}, newError(ErrorInvalidInput, "", "prompt_too_long", nil)
	}

	runID := o.newRunID()
	logger := o.logger.With("run_id", runID, "user_id", userID)
	start := o.now()

	fields := Payload{
		FieldUserID: userID,
		FieldPrompt: prompt,
		FieldRunID:  runID,
	}

	for _, step := range o.steps {
		out, err := o.runStep(ctx, step, fields, logger)
		if err != nil {
			o.finish(ctx, fields, start, err, logger)
			return domain.PipelineResult{}, err
		}
		for _, f := range step.Stage.Outputs() {
			fields[f] = out[f]
		}
		for _, f := range optionalOutputs(step.Stage) {
			if v := out[f]; v != "" {
				fields[f] = v
			}
		}
	}

	result := domain.PipelineResult{
		UserID:     fields.Get(FieldUserID),
		Completion: fields.Get(FieldCompletion),
		AudioRef:   fields.Get(FieldAudioRef),
		AudioURL:   fields.Get(FieldAudioURL),
		RunID:      runID,
		Timestamp:  fields.Get(FieldTimestamp),
	}
	o.enrich(ctx, result, logger)
	o.finish(ctx, fields, start, nil, logger)
	return result, nil
}

type stageResult struct {
	out Payload
	err error
}

func (o *Orchestrator) runStep(ctx context.Context, step Step, fields Payload, logger *slog.Logger) (Payload, error) {
	name := step.Stage.Name()
	in := make(Payload, len(step.Bind))
	for _, b := range step.Bind {
		in[b.To] = fields[b.From]
	}

	stageCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	started := o.now()
	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: fmt.Errorf("stage panicked: %v", r)}
			}
		}()
		out, err := step.Stage.Run(stageCtx, in)
		done <- stageResult{out: out, err: err}
	}()

	var err error
	var out Payload
	select {
	case r := <-done:
		out, err = r.out, r.err
		if err != nil {
			err = o.classify(ctx, stageCtx, name, "stage_error", err)
		} else {
			err = checkOutputs(name, step.Stage.Outputs(), out, fields)
		}
	case <-stageCtx.Done():
		// The in-flight call is abandoned; its result, if any, is discarded.
		err = o.classify(ctx, stageCtx, name, "abandoned", stageCtx.Err())
	}

	elapsed := o.now().Sub(started)
	o.observer.StageFinished(name, elapsed, err)
	if err != nil {
		logger.Warn("stage failed", "stage", name, "duration_ms", elapsed.Milliseconds(), "err", err)
		return nil, err
	}
	logger.Info("stage completed", "stage", name, "duration_ms", elapsed.Milliseconds())
	return out, nil
}

// classify maps a stage error to STAGE_TIMEOUT when the stage's own deadline
// expired, and to the stage's failure kind otherwise.
func (o *Orchestrator) classify(parent, stageCtx context.Context, name StageName, reason string, err error) error {
	if parent.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return newError(ErrorStageTimeout, name, "deadline_exceeded", err)
	}
	if parent.Err() != nil {
		return newError(failureKind(name), name, "canceled", parent.Err())
	}
	return newError(failureKind(name), name, FailureReason(err, reason), err)
}

func checkOutputs(name StageName, declared []Field, out, fields Payload) error {
	for _, f := range declared {
		v, ok := out[f]
		if !ok || v == "" {
			return newError(failureKind(name), name, "missing_output", fmt.Errorf("stage did not produce %q", f))
		}
		if f == FieldUserID || f == FieldRunID {
			if prev := fields.Get(f); prev != "" && prev != v {
				return newError(failureKind(name), name, "identity_changed", fmt.Errorf("stage changed %q", f))
			}
		}
	}
	return nil
}

func (o *Orchestrator) enrich(ctx context.Context, result domain.PipelineResult, logger *slog.Logger) {
	if o.enricher == nil || result.Timestamp == "" {
		return
	}
	err := o.enricher.EnrichTurn(ctx, result.UserID, result.Timestamp, result.Completion, result.AudioRef)
	o.observer.TurnEnriched(err)
	if err != nil {
		logger.Warn("turn enrichment failed", "timestamp", result.Timestamp, "err", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, fields Payload, start time.Time, runErr error, logger *slog.Logger) {
	elapsed := o.now().Sub(start)
	o.observer.RunFinished(elapsed, runErr)

	ev := domain.RunEvent{
		RunID:      fields.Get(FieldRunID),
		UserID:     fields.Get(FieldUserID),
		Timestamp:  fields.Get(FieldTimestamp),
		Status:     domain.RunSucceeded,
		AudioRef:   fields.Get(FieldAudioRef),
		DurationMs: elapsed.Milliseconds(),
		FinishedAt: o.now().UTC(),
	}
	if runErr != nil {
		ev.Status = domain.RunFailed
		if pe, ok := AsError(runErr); ok {
			ev.FailedStage = string(pe.Stage)
			ev.ErrorKind = string(pe.Kind)
		}
		logger.Warn("run failed", "duration_ms", elapsed.Milliseconds(), "err", runErr)
	} else {
		logger.Info("run completed", "duration_ms", elapsed.Milliseconds())
	}

	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyRun(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("run notification failed", "err", err)
	}
}

type noopObserver struct{}

func (noopObserver) StageFinished(StageName, time.Duration, error) {}
func (noopObserver) RunFinished(time.Duration, error)              {}
func (noopObserver) TurnEnriched(error)                            {}
