package wiring

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"red-ai/internal/config"
	"red-ai/internal/pipeline"
	"red-ai/internal/stage"
)

func testConfig(t *testing.T, extra map[string]string) config.Config {
	t.Helper()
	env := map[string]string{
		"CHAT_TABLE":   "chat",
		"AUDIO_BUCKET": "audio",
		"PARAM_PREFIX": "/red-ai",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.Load(func(k string) string { return env[k] })
	require.NoError(t, err)
	return cfg
}

func awsConfig() aws.Config {
	return aws.Config{Region: "us-east-1", Credentials: aws.AnonymousCredentials{}}
}

func TestPipeline_InProcessStages(t *testing.T) {
	b := NewBuilder(testConfig(t, nil), awsConfig())
	app, err := b.Pipeline(prometheus.NewRegistry())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()

	require.Equal(t, []pipeline.StageName{pipeline.StageTranscript, pipeline.StageCompletion, pipeline.StageSpeech}, app.Orchestrator.Stages())
	require.NotNil(t, app.Metrics)
}

func TestPipeline_RemoteStage(t *testing.T) {
	b := NewBuilder(testConfig(t, map[string]string{"COMPLETION_FUNCTION": "red-ai-completion"}), awsConfig())

	s, err := b.stageFor(pipeline.StageCompletion)
	require.NoError(t, err)
	require.IsType(t, &stage.Remote{}, s)

	s, err = b.stageFor(pipeline.StageSpeech)
	require.NoError(t, err)
	require.IsType(t, &stage.Speech{}, s)
}

func TestStage_ByName(t *testing.T) {
	b := NewBuilder(testConfig(t, map[string]string{"SPEECH_BACKEND": "polly"}), awsConfig())

	s, err := b.Stage(pipeline.StageTranscript)
	require.NoError(t, err)
	require.IsType(t, &stage.Transcript{}, s)

	s, err = b.Stage(pipeline.StageCompletion)
	require.NoError(t, err)
	require.IsType(t, &stage.Completion{}, s)

	s, err = b.Stage(pipeline.StageSpeech)
	require.NoError(t, err)
	require.IsType(t, &stage.Speech{}, s)

	_, err = b.Stage("")
	require.Error(t, err)
	_, err = b.Stage("moderation")
	require.Error(t, err)
}

func TestBuilder_SharesClients(t *testing.T) {
	b := NewBuilder(testConfig(t, nil), awsConfig())
	first, err := b.turnStore()
	require.NoError(t, err)
	second, err := b.turnStore()
	require.NoError(t, err)
	require.Same(t, first, second)

	c1, err := b.openAI()
	require.NoError(t, err)
	c2, err := b.openAI()
	require.NoError(t, err)
	require.Same(t, c1, c2)
}
