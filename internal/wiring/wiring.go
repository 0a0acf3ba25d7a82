// Package wiring builds the pipeline and its stages from configuration. It is
// shared by every binary so a stage behaves the same in-process and when
// deployed as its own function.
package wiring

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	awspolly "github.com/aws/aws-sdk-go-v2/service/polly"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"red-ai/internal/config"
	"red-ai/internal/events"
	"red-ai/internal/integrations/openai"
	"red-ai/internal/integrations/paramstore"
	"red-ai/internal/integrations/polly"
	"red-ai/internal/integrations/s3store"
	"red-ai/internal/observability/metrics"
	"red-ai/internal/pipeline"
	"red-ai/internal/repository"
	"red-ai/internal/speech"
	"red-ai/internal/stage"
)

// App is a fully wired pipeline.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Metrics      *metrics.Metrics
	Publisher    *events.Publisher
}

// Close flushes pending run events.
func (a *App) Close() error {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher.Close()
}

// Builder constructs clients lazily so a process only creates what its
// configuration needs.
type Builder struct {
	cfg    config.Config
	awsCfg aws.Config

	turns  *repository.Client
	params *paramstore.Client
	openai *openai.Client
}

func NewBuilder(cfg config.Config, awsCfg aws.Config) *Builder {
	return &Builder{cfg: cfg, awsCfg: awsCfg}
}

// Pipeline builds the orchestrator with metrics registered on reg. Stages
// with a configured function name run remotely.
func (b *Builder) Pipeline(reg prometheus.Registerer) (*App, error) {
	stages := make(map[pipeline.StageName]pipeline.Stage, 3)
	for _, name := range []pipeline.StageName{pipeline.StageTranscript, pipeline.StageCompletion, pipeline.StageSpeech} {
		s, err := b.stageFor(name)
		if err != nil {
			return nil, err
		}
		stages[name] = s
	}

	m := metrics.New(reg)
	pub := events.New(events.Config{Brokers: b.cfg.KafkaBrokers, Topic: b.cfg.KafkaTopic}, events.WithRecorder(m))

	turns, err := b.turnStore()
	if err != nil {
		return nil, err
	}
	orch, err := pipeline.New(
		pipeline.DefaultSteps(stages[pipeline.StageTranscript], stages[pipeline.StageCompletion], stages[pipeline.StageSpeech], b.cfg.Timeouts),
		pipeline.WithEnricher(turns),
		pipeline.WithObserver(m),
		pipeline.WithNotifier(pub),
		pipeline.WithMaxPromptLength(b.cfg.MaxPromptLength),
	)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &App{Orchestrator: orch, Metrics: m, Publisher: pub}, nil
}

func (b *Builder) stageFor(name pipeline.StageName) (pipeline.Stage, error) {
	if fn := b.cfg.RemoteFunction(name); fn != "" {
		return stage.NewRemote(awslambda.NewFromConfig(b.awsCfg), fn, name)
	}
	return b.Stage(name)
}

// Stage builds the in-process implementation of the named stage.
func (b *Builder) Stage(name pipeline.StageName) (pipeline.Stage, error) {
	switch name {
	case pipeline.StageTranscript:
		turns, err := b.turnStore()
		if err != nil {
			return nil, err
		}
		return stage.NewTranscript(turns)
	case pipeline.StageCompletion:
		return b.completion()
	case pipeline.StageSpeech:
		return b.speech()
	case "":
		return nil, errors.New("wiring: stage name must not be empty")
	default:
		return nil, fmt.Errorf("wiring: unknown stage %q", name)
	}
}

func (b *Builder) completion() (pipeline.Stage, error) {
	client, err := b.openAI()
	if err != nil {
		return nil, err
	}
	turns, err := b.turnStore()
	if err != nil {
		return nil, err
	}
	params, err := b.paramStore()
	if err != nil {
		return nil, err
	}
	return stage.NewCompletion(client,
		stage.WithHistory(turns, b.cfg.MaxContextItems),
		stage.WithSystemPromptParameter(params, b.cfg.SystemPromptParameter()),
	)
}

func (b *Builder) speech() (pipeline.Stage, error) {
	backend, err := speech.New(b.cfg.SpeechBackend, speech.Providers{
		OpenAI: func() (speech.Synthesizer, error) {
			return b.openAI()
		},
		Polly: func() (speech.Synthesizer, error) {
			return polly.New(awspolly.NewFromConfig(b.awsCfg), polly.WithVoice(b.cfg.PollyVoice))
		},
	})
	if err != nil {
		return nil, err
	}
	store, err := s3store.New(awss3.NewFromConfig(b.awsCfg), b.cfg.AudioBucket)
	if err != nil {
		return nil, err
	}
	return stage.NewSpeech(backend, store)
}

func (b *Builder) turnStore() (*repository.Client, error) {
	if b.turns != nil {
		return b.turns, nil
	}
	turns, err := repository.New(awsdynamodb.NewFromConfig(b.awsCfg), b.cfg.ChatTable, repository.WithTTL(b.cfg.TurnTTL))
	if err != nil {
		return nil, err
	}
	b.turns = turns
	return turns, nil
}

func (b *Builder) paramStore() (*paramstore.Client, error) {
	if b.params != nil {
		return b.params, nil
	}
	params, err := paramstore.New(awsssm.NewFromConfig(b.awsCfg))
	if err != nil {
		return nil, err
	}
	b.params = params
	return params, nil
}

func (b *Builder) openAI() (*openai.Client, error) {
	if b.openai != nil {
		return b.openai, nil
	}
	params, err := b.paramStore()
	if err != nil {
		return nil, err
	}
	client, err := openai.NewClient(params, b.cfg.ParamPrefix,
		openai.WithCompletionModel(b.cfg.OpenAIModel, b.cfg.OpenAIMaxTokens, b.cfg.OpenAITemperature),
		openai.WithSpeechVoice(b.cfg.OpenAITTSModel, b.cfg.OpenAITTSVoice),
	)
	if err != nil {
		return nil, err
	}
	b.openai = client
	return client, nil
}
