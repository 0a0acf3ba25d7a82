package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"red-ai/internal/pipeline"
)

// Envelope is the payload exchanged with a stage deployed as its own Lambda
// function. A stage failure is reported in Error and Reason rather than as a
// function error so the reason survives the hop.
type Envelope struct {
	Stage  pipeline.StageName `json:"stage"`
	Fields pipeline.Payload   `json:"fields"`
	Error  string             `json:"error,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// functionError is the body Lambda returns for an unhandled function error.
type functionError struct {
	Message string `json:"errorMessage"`
	Type    string `json:"errorType"`
}

type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Remote runs a stage by synchronously invoking the Lambda function that
// serves it.
type Remote struct {
	Descriptor
	api      lambdaAPI
	function string
}

func NewRemote(api lambdaAPI, function string, name pipeline.StageName) (*Remote, error) {
	if api == nil {
		return nil, errors.New("stage: lambda api must not be nil")
	}
	function = strings.TrimSpace(function)
	if function == "" {
		return nil, errors.New("stage: function name must not be empty")
	}
	d, err := Describe(name)
	if err != nil {
		return nil, err
	}
	return &Remote{Descriptor: d, api: api, function: function}, nil
}

func (s *Remote) Run(ctx context.Context, in pipeline.Payload) (pipeline.Payload, error) {
	body, err := json.Marshal(Envelope{Stage: s.name, Fields: in.Select(s.inputs)})
	if err != nil {
		return nil, fmt.Errorf("stage %s: marshal envelope: %w", s.name, err)
	}

	out, err := s.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(s.function),
		Payload:      body,
	})
	if err != nil {
		return nil, pipeline.Fail("invoke_error", fmt.Errorf("stage %s: invoke %s: %w", s.name, s.function, err))
	}
	if out.FunctionError != nil {
		var fe functionError
		_ = json.Unmarshal(out.Payload, &fe)
		return nil, pipeline.Fail("function_error",
			fmt.Errorf("stage %s: %s returned %s: %s", s.name, s.function, aws.ToString(out.FunctionError), fe.Message))
	}

	var resp Envelope
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return nil, pipeline.Fail("malformed_response", fmt.Errorf("stage %s: decode response: %w", s.name, err))
	}
	if resp.Error != "" {
		reason := resp.Reason
		if reason == "" {
			reason = "stage_error"
		}
		return nil, pipeline.Fail(reason, errors.New(resp.Error))
	}
	return resp.Fields, nil
}

// Serve returns a Lambda handler that runs s for envelopes sent by Remote.
func Serve(s pipeline.Stage) func(ctx context.Context, req Envelope) (Envelope, error) {
	return func(ctx context.Context, req Envelope) (Envelope, error) {
		resp := Envelope{Stage: s.Name()}
		if req.Stage != "" && req.Stage != s.Name() {
			resp.Error = fmt.Sprintf("envelope addressed to stage %q", req.Stage)
			resp.Reason = "wrong_stage"
			return resp, nil
		}
		out, err := s.Run(ctx, req.Fields)
		if err != nil {
			resp.Error = err.Error()
			resp.Reason = pipeline.FailureReason(err, "stage_error")
			return resp, nil
		}
		fields := s.Outputs()
		if oo, ok := s.(pipeline.OptionalOutputer); ok {
			fields = append(append([]pipeline.Field{}, fields...), oo.OptionalOutputs()...)
		}
		resp.Fields = out.Select(fields)
		return resp, nil
	}
}
