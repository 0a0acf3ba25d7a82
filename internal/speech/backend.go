// Package speech selects the text-to-speech backend used by the speech stage.
// Exactly one backend is configured per process; the choice is made at startup
// and never changes.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ContentType is the media type of every synthesized clip.
const ContentType = "audio/mpeg"

type Kind string

const (
	KindOpenAI Kind = "openai"
	KindPolly  Kind = "polly"
)

// ParseKind maps a configuration value to a Kind. Empty selects OpenAI.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindOpenAI:
		return KindOpenAI, nil
	case KindPolly:
		return KindPolly, nil
	default:
		return "", fmt.Errorf("speech: unknown backend %q", s)
	}
}

// Synthesizer turns text into MP3 bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Audio is one synthesized clip.
type Audio struct {
	Bytes       []byte
	ContentType string
}

// Backend is the speech stage's view of a synthesizer.
type Backend interface {
	Kind() Kind
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Providers builds the concrete synthesizers. Only the selected one is called.
type Providers struct {
	OpenAI func() (Synthesizer, error)
	Polly  func() (Synthesizer, error)
}

// New builds the backend for kind.
func New(kind Kind, p Providers) (Backend, error) {
	var build func() (Synthesizer, error)
	switch kind {
	case KindOpenAI:
		build = p.OpenAI
	case KindPolly:
		build = p.Polly
	default:
		return nil, fmt.Errorf("speech: unknown backend %q", kind)
	}
	if build == nil {
		return nil, fmt.Errorf("speech: no provider for backend %q", kind)
	}
	s, err := build()
	if err != nil {
		return nil, fmt.Errorf("speech: build %s backend: %w", kind, err)
	}
	return Wrap(kind, s)
}

// Wrap adapts an already-built synthesizer.
func Wrap(kind Kind, s Synthesizer) (Backend, error) {
	if s == nil {
		return nil, errors.New("speech: synthesizer must not be nil")
	}
	return &backend{kind: kind, synth: s}, nil
}

type backend struct {
	kind  Kind
	synth Synthesizer
}

func (b *backend) Kind() Kind { return b.kind }

func (b *backend) Synthesize(ctx context.Context, text string) (Audio, error) {
	raw, err := b.synth.Synthesize(ctx, text)
	if err != nil {
		return Audio{}, fmt.Errorf("speech: %s: %w", b.kind, err)
	}
	if len(raw) == 0 {
		return Audio{}, fmt.Errorf("speech: %s returned no audio", b.kind)
	}
	return Audio{Bytes: raw, ContentType: ContentType}, nil
}
