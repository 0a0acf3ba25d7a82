// Package config reads the process configuration from the environment once
// at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"red-ai/internal/logging"
	"red-ai/internal/pipeline"
	"red-ai/internal/speech"
)

type TriggerMode string

const (
	TriggerDirect TriggerMode = "direct"
	TriggerAPIGW  TriggerMode = "apigw"
)

// Config is immutable after Load.
type Config struct {
	ChatTable   string
	AudioBucket string
	ParamPrefix string

	SpeechBackend speech.Kind
	Timeouts      pipeline.Timeouts

	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64
	OpenAITTSModel    string
	OpenAITTSVoice    string
	PollyVoice        string

	MaxContextItems int
	TurnTTL         time.Duration
	MaxPromptLength int

	LogLevel    slog.Level
	LogFormat   string
	TriggerMode TriggerMode

	KafkaBrokers []string
	KafkaTopic   string

	// Lambda function names of stages deployed on their own. Empty runs the
	// stage in-process.
	TranscriptFunction string
	CompletionFunction string
	SpeechFunction     string
	StageName          pipeline.StageName

	MetricsAddr string
}

// SystemPromptParameter is the optional parameter holding the completion
// system prompt.
func (c Config) SystemPromptParameter() string {
	return c.ParamPrefix + "/system-prompt"
}

// RemoteFunction returns the function configured for stage, if any.
func (c Config) RemoteFunction(stage pipeline.StageName) string {
	switch stage {
	case pipeline.StageTranscript:
		return c.TranscriptFunction
	case pipeline.StageCompletion:
		return c.CompletionFunction
	case pipeline.StageSpeech:
		return c.SpeechFunction
	}
	return ""
}

// Load builds a Config from getenv. Every invalid or missing value is
// reported in the returned error.
func Load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		ChatTable:   r.str("CHAT_TABLE", ""),
		AudioBucket: r.str("AUDIO_BUCKET", ""),
		ParamPrefix: strings.TrimRight(r.str("PARAM_PREFIX", ""), "/"),

		OpenAIModel:       r.str("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIMaxTokens:   r.positiveInt("OPENAI_MAX_TOKENS", 100),
		OpenAITemperature: r.float("OPENAI_TEMPERATURE", 0.7),
		OpenAITTSModel:    r.str("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice:    r.str("OPENAI_TTS_VOICE", "nova"),
		PollyVoice:        r.str("POLLY_VOICE", "Joanna"),

		MaxContextItems: r.positiveInt("MAX_CONTEXT_ITEMS", 20),
		TurnTTL:         r.duration("TURN_TTL", 720*time.Hour),
		MaxPromptLength: r.positiveInt("MAX_PROMPT_LENGTH", 2000),

		LogLevel:  logging.ParseLevel(r.str("LOG_LEVEL", "info")),
		LogFormat: r.str("LOG_FORMAT", "json"),

		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.str("KAFKA_TOPIC", "red-ai.runs"),

		TranscriptFunction: r.str("TRANSCRIPT_FUNCTION", ""),
		CompletionFunction: r.str("COMPLETION_FUNCTION", ""),
		SpeechFunction:     r.str("SPEECH_FUNCTION", ""),
		StageName:          pipeline.StageName(strings.ToLower(r.str("STAGE_NAME", ""))),

		MetricsAddr: r.str("METRICS_ADDR", ":9090"),
	}

	kind, err := speech.ParseKind(r.str("SPEECH_BACKEND", string(speech.KindOpenAI)))
	if err != nil {
		r.fail("SPEECH_BACKEND", err)
	}
	cfg.SpeechBackend = kind

	switch mode := TriggerMode(strings.ToLower(r.str("TRIGGER_MODE", string(TriggerDirect)))); mode {
	case TriggerDirect, TriggerAPIGW:
		cfg.TriggerMode = mode
	default:
		r.fail("TRIGGER_MODE", fmt.Errorf("must be %q or %q, got %q", TriggerDirect, TriggerAPIGW, mode))
	}

	if name := cfg.StageName; name != "" {
		if _, err := stageResources(name, cfg.SpeechBackend); err != nil {
			r.fail("STAGE_NAME", err)
		}
	}
	for _, key := range cfg.requiredResources() {
		r.required(key)
	}
	if cfg.ParamPrefix == "" && strings.TrimSpace(getenv("PARAM_PREFIX")) != "" {
		r.fail("PARAM_PREFIX", errors.New("must not be only slashes"))
	}

	if f := cfg.LogFormat; f != "json" && f != "text" {
		r.fail("LOG_FORMAT", fmt.Errorf("must be json or text, got %q", f))
	}
	if cfg.OpenAITemperature < 0 || cfg.OpenAITemperature > 2 {
		r.fail("OPENAI_TEMPERATURE", fmt.Errorf("must be between 0 and 2, got %v", cfg.OpenAITemperature))
	}
	if cfg.TurnTTL < 0 {
		r.fail("TURN_TTL", errors.New("must not be negative"))
	}

	stageTimeout := r.timeout("STAGE_TIMEOUT", pipeline.DefaultStageTimeout)
	cfg.Timeouts = pipeline.Timeouts{
		Transcript: r.timeout("TRANSCRIPT_TIMEOUT", stageTimeout),
		Completion: r.timeout("COMPLETION_TIMEOUT", stageTimeout),
		Speech:     r.timeout("SPEECH_TIMEOUT", stageTimeout),
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// requiredResources lists the resource variables needed by the stages this
// process runs in-process. A stage function (STAGE_NAME set) needs only its
// own; the pipeline always needs CHAT_TABLE to enrich turns.
func (c Config) requiredResources() []string {
	need := map[string]bool{}
	if c.StageName != "" {
		keys, _ := stageResources(c.StageName, c.SpeechBackend)
		for _, k := range keys {
			need[k] = true
		}
	} else {
		need["CHAT_TABLE"] = true
		for _, name := range []pipeline.StageName{pipeline.StageTranscript, pipeline.StageCompletion, pipeline.StageSpeech} {
			if c.RemoteFunction(name) != "" {
				continue
			}
			keys, _ := stageResources(name, c.SpeechBackend)
			for _, k := range keys {
				need[k] = true
			}
		}
	}

	var out []string
	for _, k := range []string{"CHAT_TABLE", "AUDIO_BUCKET", "PARAM_PREFIX"} {
		if need[k] {
			out = append(out, k)
		}
	}
	return out
}

func stageResources(name pipeline.StageName, backend speech.Kind) ([]string, error) {
	switch name {
	case pipeline.StageTranscript:
		return []string{"CHAT_TABLE"}, nil
	case pipeline.StageCompletion:
		return []string{"CHAT_TABLE", "PARAM_PREFIX"}, nil
	case pipeline.StageSpeech:
		if backend == speech.KindPolly {
			return []string{"AUDIO_BUCKET"}, nil
		}
		return []string{"AUDIO_BUCKET", "PARAM_PREFIX"}, nil
	}
	return nil, fmt.Errorf("unknown stage %q", name)
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.fail(key, errors.New("required environment variable is not set"))
	}
	return v
}

func (r *reader) positiveInt(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.fail(key, fmt.Errorf("must be a positive integer, got %q", v))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, fmt.Errorf("must be a number, got %q", v))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, fmt.Errorf("must be a duration, got %q", v))
		return def
	}
	return d
}

func (r *reader) timeout(key string, def time.Duration) time.Duration {
	d := r.duration(key, def)
	if d <= 0 {
		r.fail(key, fmt.Errorf("must be positive, got %s", d))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
