package stage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/stretchr/testify/require"

	"red-ai/internal/pipeline"
	"red-ai/internal/speech"
)

// localLambda routes Invoke calls to an in-process stage handler.
type localLambda struct {
	handler func(ctx context.Context, req Envelope) (Envelope, error)
	out     *lambda.InvokeOutput
	err     error

	function string
	sent     Envelope
}

func (l *localLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	l.function = aws.ToString(in.FunctionName)
	if err := json.Unmarshal(in.Payload, &l.sent); err != nil {
		return nil, err
	}
	if l.err != nil || l.out != nil {
		return l.out, l.err
	}
	resp, err := l.handler(ctx, l.sent)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &lambda.InvokeOutput{StatusCode: 200, Payload: body}, nil
}

func TestNewRemote_Validation(t *testing.T) {
	_, err := NewRemote(nil, "fn", pipeline.StageCompletion)
	require.Error(t, err)
	_, err = NewRemote(&localLambda{}, " ", pipeline.StageCompletion)
	require.Error(t, err)
	_, err = NewRemote(&localLambda{}, "fn", "moderation")
	require.Error(t, err)
}

func TestRemote_RoundTripThroughServe(t *testing.T) {
	backend := &fakeBackend{reply: "hi there"}
	local, err := NewCompletion(backend)
	require.NoError(t, err)

	api := &localLambda{handler: Serve(local)}
	r, err := NewRemote(api, "red-ai-completion", pipeline.StageCompletion)
	require.NoError(t, err)
	require.Equal(t, local.Inputs(), r.Inputs())
	require.Equal(t, local.Outputs(), r.Outputs())

	out, err := r.Run(context.Background(), pipeline.Payload{
		pipeline.FieldUserID: "u1",
		pipeline.FieldPrompt: "hello",
		pipeline.FieldRunID:  "not-an-input",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.Payload{pipeline.FieldUserID: "u1", pipeline.FieldCompletion: "hi there"}, out)

	require.Equal(t, "red-ai-completion", api.function)
	require.Equal(t, pipeline.StageCompletion, api.sent.Stage)
	require.Equal(t, pipeline.Payload{pipeline.FieldUserID: "u1", pipeline.FieldPrompt: "hello"}, api.sent.Fields)
}

func TestRemote_SpeechForwardsOptionalURL(t *testing.T) {
	b, err := speech.Wrap(speech.KindPolly, &fakeSynth{audio: []byte("mp3")})
	require.NoError(t, err)
	in := pipeline.Payload{pipeline.FieldText: "hi", pipeline.FieldUserID: "u1", pipeline.FieldRunID: "run-1"}

	for _, store := range []*fakeAudioStore{{}, {noURL: true}} {
		local, err := NewSpeech(b, store)
		require.NoError(t, err)
		r, err := NewRemote(&localLambda{handler: Serve(local)}, "red-ai-speech", pipeline.StageSpeech)
		require.NoError(t, err)
		require.Equal(t, local.OptionalOutputs(), r.OptionalOutputs())

		out, err := r.Run(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, "u1/run-1", out.Get(pipeline.FieldAudioRef))
		if store.noURL {
			require.NotContains(t, out, pipeline.FieldAudioURL)
		} else {
			require.Equal(t, "https://bucket.s3.amazonaws.com/u1/run-1", out.Get(pipeline.FieldAudioURL))
		}
	}
}

func TestRemote_PropagatesStageReason(t *testing.T) {
	local, err := NewCompletion(&fakeBackend{reply: " "})
	require.NoError(t, err)
	r, err := NewRemote(&localLambda{handler: Serve(local)}, "fn", pipeline.StageCompletion)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), pipeline.Payload{pipeline.FieldUserID: "u1", pipeline.FieldPrompt: "hello"})
	requireReason(t, err, "empty_completion")
}

func TestRemote_InvokeFailures(t *testing.T) {
	in := pipeline.Payload{pipeline.FieldUserID: "u1", pipeline.FieldPrompt: "hello"}

	r, err := NewRemote(&localLambda{err: errors.New("TooManyRequestsException")}, "fn", pipeline.StageCompletion)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), in)
	requireReason(t, err, "invoke_error")

	r, err = NewRemote(&localLambda{out: &lambda.InvokeOutput{
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"Task timed out after 15.00 seconds","errorType":"Runtime.ExitError"}`),
	}}, "fn", pipeline.StageCompletion)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), in)
	requireReason(t, err, "function_error")
	require.Contains(t, err.Error(), "Task timed out")

	r, err = NewRemote(&localLambda{out: &lambda.InvokeOutput{Payload: []byte("not-json")}}, "fn", pipeline.StageCompletion)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), in)
	requireReason(t, err, "malformed_response")
}

func TestServe_RejectsWrongStage(t *testing.T) {
	local, err := NewCompletion(&fakeBackend{reply: "x"})
	require.NoError(t, err)

	resp, err := Serve(local)(context.Background(), Envelope{Stage: pipeline.StageSpeech})
	require.NoError(t, err)
	require.Equal(t, "wrong_stage", resp.Reason)
	require.Nil(t, resp.Fields)
}
