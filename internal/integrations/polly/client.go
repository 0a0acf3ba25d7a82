// Package polly synthesizes speech with Amazon Polly.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

const (
	defaultVoice = types.VoiceIdJoanna

	// Polly rejects longer plain-text input for SynthesizeSpeech.
	maxTextLength = 3000
	maxAudioBytes = 25 << 20
)

// pollyAPI is the minimal Polly interface required by Client.
type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Client wraps Polly SynthesizeSpeech with MP3 output.
type Client struct {
	api    pollyAPI
	voice  types.VoiceId
	engine types.Engine
}

type Option func(*Client)

// WithVoice selects the Polly voice (e.g. "Joanna", "Matthew").
func WithVoice(voice string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(voice); v != "" {
			c.voice = types.VoiceId(v)
		}
	}
}

// WithEngine selects the Polly engine ("standard", "neural", ...).
func WithEngine(engine string) Option {
	return func(c *Client) {
		if e := strings.TrimSpace(engine); e != "" {
			c.engine = types.Engine(e)
		}
	}
}

// New creates a new Polly Client.
func New(api pollyAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("polly: api must not be nil")
	}
	c := &Client{api: api, voice: defaultVoice}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Synthesize returns MP3 audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("polly: text must not be empty")
	}
	if len([]rune(text)) > maxTextLength {
		return nil, fmt.Errorf("polly: text exceeds %d characters", maxTextLength)
	}

	in := &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatMp3,
		Text:         aws.String(text),
		VoiceId:      c.voice,
	}
	if c.engine != "" {
		in.Engine = c.engine
	}

	out, err := c.api.SynthesizeSpeech(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("polly: SynthesizeSpeech: %w", err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, errors.New("polly: SynthesizeSpeech returned no audio stream")
	}
	defer func() { _ = out.AudioStream.Close() }()

	audio, err := io.ReadAll(io.LimitReader(out.AudioStream, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("polly: read audio stream: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("polly: empty audio stream")
	}
	return audio, nil
}
