package pipeline

import (
	"context"
	"time"
)

// DefaultStageTimeout bounds a stage that has no explicit timeout.
const DefaultStageTimeout = 15 * time.Second

type StageName string

const (
	StageTranscript StageName = "transcript"
	StageCompletion StageName = "completion"
	StageSpeech     StageName = "speech"
)

// Stage is one unit of work. Inputs are the fields the stage reads from the
// payload it is given; Outputs are the fields it guarantees to return.
type Stage interface {
	Name() StageName
	Inputs() []Field
	Outputs() []Field
	Run(ctx context.Context, in Payload) (Payload, error)
}

// OptionalOutputer is implemented by stages that may return fields beyond
// their guaranteed Outputs. Optional fields are forwarded to the result when
// non-empty; later stages cannot bind them.
type OptionalOutputer interface {
	OptionalOutputs() []Field
}

func optionalOutputs(s Stage) []Field {
	if oo, ok := s.(OptionalOutputer); ok {
		return oo.OptionalOutputs()
	}
	return nil
}

// Binding copies the accumulated field From into the stage input field To.
type Binding struct {
	From Field
	To   Field
}

// Step is one row of the static mapping table.
type Step struct {
	Stage   Stage
	Bind    []Binding
	Timeout time.Duration
}

// Timeouts holds the per-stage maximum durations of the default pipeline.
type Timeouts struct {
	Transcript time.Duration
	Completion time.Duration
	Speech     time.Duration
}

// DefaultSteps returns the Transcript -> Completion -> Speech table.
func DefaultSteps(transcript, completion, speech Stage, t Timeouts) []Step {
	return []Step{
		{
			Stage: transcript,
			Bind: []Binding{
				{From: FieldUserID, To: FieldUserID},
				{From: FieldPrompt, To: FieldPrompt},
				{From: FieldRunID, To: FieldRunID},
			},
			Timeout: t.Transcript,
		},
		{
			Stage: completion,
			Bind: []Binding{
				{From: FieldUserID, To: FieldUserID},
				{From: FieldPrompt, To: FieldPrompt},
			},
			Timeout: t.Completion,
		},
		{
			Stage: speech,
			Bind: []Binding{
				{From: FieldCompletion, To: FieldText},
				{From: FieldUserID, To: FieldUserID},
				{From: FieldRunID, To: FieldRunID},
			},
			Timeout: t.Speech,
		},
	}
}

// validateSteps checks the mapping table before any run executes: every
// binding must read a field that is available at that point of the pipeline
// and every declared stage input must be bound exactly once.
func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return mappingError("", "pipeline has no stages")
	}

	available := make(map[Field]struct{}, len(knownFields))
	for _, f := range inputFields {
		available[f] = struct{}{}
	}
	seen := make(map[StageName]struct{}, len(steps))

	for i, step := range steps {
		if step.Stage == nil {
			return mappingError("", "step %d has no stage", i)
		}
		name := step.Stage.Name()
		if name == "" {
			return mappingError("", "step %d has an unnamed stage", i)
		}
		if _, dup := seen[name]; dup {
			return mappingError(name, "stage appears more than once")
		}
		seen[name] = struct{}{}
		if step.Timeout < 0 {
			return mappingError(name, "negative timeout %s", step.Timeout)
		}

		declared := make(map[Field]struct{}, len(step.Stage.Inputs()))
		for _, f := range step.Stage.Inputs() {
			if !f.Known() {
				return mappingError(name, "declares unknown input %q", f)
			}
			declared[f] = struct{}{}
		}

		bound := make(map[Field]struct{}, len(step.Bind))
		for _, b := range step.Bind {
			if !b.From.Known() {
				return mappingError(name, "binding reads unknown field %q", b.From)
			}
			if _, ok := available[b.From]; !ok {
				return mappingError(name, "binding reads %q which no upstream stage produces", b.From)
			}
			if _, ok := declared[b.To]; !ok {
				return mappingError(name, "binding targets undeclared input %q", b.To)
			}
			if _, dup := bound[b.To]; dup {
				return mappingError(name, "input %q is bound more than once", b.To)
			}
			bound[b.To] = struct{}{}
		}
		for f := range declared {
			if _, ok := bound[f]; !ok {
				return mappingError(name, "input %q is not bound", f)
			}
		}

		for _, f := range step.Stage.Outputs() {
			if !f.Known() {
				return mappingError(name, "declares unknown output %q", f)
			}
			available[f] = struct{}{}
		}
		for _, f := range optionalOutputs(step.Stage) {
			if !f.Known() {
				return mappingError(name, "declares unknown optional output %q", f)
			}
		}
	}
	return nil
}
