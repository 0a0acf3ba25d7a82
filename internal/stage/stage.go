// Package stage implements the transcript, completion and speech stages of a
// pipeline run, and the adapter that runs any of them as a separate Lambda
// function.
package stage

import (
	"fmt"

	"red-ai/internal/pipeline"
)

// Descriptor is the static contract of a stage: its name and the fields it
// reads and produces.
type Descriptor struct {
	name     pipeline.StageName
	inputs   []pipeline.Field
	outputs  []pipeline.Field
	optional []pipeline.Field
}

func (d Descriptor) Name() pipeline.StageName { return d.name }

func (d Descriptor) Inputs() []pipeline.Field { return d.inputs }

func (d Descriptor) Outputs() []pipeline.Field { return d.outputs }

func (d Descriptor) OptionalOutputs() []pipeline.Field { return d.optional }

var (
	transcriptDescriptor = Descriptor{
		name:    pipeline.StageTranscript,
		inputs:  []pipeline.Field{pipeline.FieldUserID, pipeline.FieldPrompt, pipeline.FieldRunID},
		outputs: []pipeline.Field{pipeline.FieldUserID, pipeline.FieldTimestamp, pipeline.FieldPrompt},
	}
	completionDescriptor = Descriptor{
		name:    pipeline.StageCompletion,
		inputs:  []pipeline.Field{pipeline.FieldUserID, pipeline.FieldPrompt},
		outputs: []pipeline.Field{pipeline.FieldUserID, pipeline.FieldCompletion},
	}
	speechDescriptor = Descriptor{
		name:     pipeline.StageSpeech,
		inputs:   []pipeline.Field{pipeline.FieldText, pipeline.FieldUserID, pipeline.FieldRunID},
		outputs:  []pipeline.Field{pipeline.FieldAudioRef},
		optional: []pipeline.Field{pipeline.FieldAudioURL},
	}
)

// Describe returns the contract of the named stage.
func Describe(name pipeline.StageName) (Descriptor, error) {
	switch name {
	case pipeline.StageTranscript:
		return transcriptDescriptor, nil
	case pipeline.StageCompletion:
		return completionDescriptor, nil
	case pipeline.StageSpeech:
		return speechDescriptor, nil
	default:
		return Descriptor{}, fmt.Errorf("stage: unknown stage %q", name)
	}
}

// requireInputs reads every declared input of d from in.
func requireInputs(d Descriptor, in pipeline.Payload) (pipeline.Payload, error) {
	for _, f := range d.inputs {
		if _, err := in.Require(f); err != nil {
			return nil, pipeline.Fail("invalid_input", fmt.Errorf("stage %s: %w", d.name, err))
		}
	}
	return in.Select(d.inputs), nil
}
