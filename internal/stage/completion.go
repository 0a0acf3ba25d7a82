package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"red-ai/internal/domain"
	"red-ai/internal/integrations/paramstore"
	"red-ai/internal/logging"
	"red-ai/internal/pipeline"
)

const defaultHistoryLimit = 20

// HistoryReader lists a user's turns in chronological order.
type HistoryReader interface {
	ListTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error)
}

// CompletionBackend generates the reply for a conversation.
type CompletionBackend interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Completion asks the completion backend for a reply to the prompt, with the
// user's completed turns as context. It never writes the conversation store.
type Completion struct {
	Descriptor
	backend      CompletionBackend
	history      HistoryReader
	historyLimit int
	logger       *slog.Logger

	params      ParamGetter
	promptParam string

	promptMu     sync.RWMutex
	promptLoaded bool
	systemPrompt string
}

type CompletionOption func(*Completion)

// WithHistory enables conversation history with at most limit turns.
func WithHistory(h HistoryReader, limit int) CompletionOption {
	return func(c *Completion) {
		c.history = h
		if limit > 0 {
			c.historyLimit = limit
		}
	}
}

// WithSystemPrompt sets a fixed system prompt.
func WithSystemPrompt(prompt string) CompletionOption {
	return func(c *Completion) {
		c.systemPrompt = strings.TrimSpace(prompt)
		c.promptLoaded = true
	}
}

// WithSystemPromptParameter loads the system prompt from the parameter store
// on first use. A missing parameter means no system prompt.
func WithSystemPromptParameter(p ParamGetter, name string) CompletionOption {
	return func(c *Completion) {
		c.params = p
		c.promptParam = strings.TrimSpace(name)
	}
}

func NewCompletion(backend CompletionBackend, opts ...CompletionOption) (*Completion, error) {
	if backend == nil {
		return nil, errors.New("stage: completion backend must not be nil")
	}
	c := &Completion{
		Descriptor:   completionDescriptor,
		backend:      backend,
		historyLimit: defaultHistoryLimit,
		logger:       logging.New("stage.completion"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (s *Completion) Run(ctx context.Context, in pipeline.Payload) (pipeline.Payload, error) {
	in, err := requireInputs(s.Descriptor, in)
	if err != nil {
		return nil, err
	}
	userID := in.Get(pipeline.FieldUserID)

	systemPrompt, err := s.ensureSystemPrompt(ctx)
	if err != nil {
		return nil, pipeline.Fail("ssm_load_error", err)
	}

	var history []domain.ConversationTurn
	if s.history != nil {
		// One extra turn covers the one this run's transcript stage wrote.
		turns, err := s.history.ListTurns(ctx, userID, s.historyLimit+1)
		if err != nil {
			return nil, pipeline.Fail("history_error", fmt.Errorf("stage completion: %w", err))
		}
		history = completedHistory(turns, s.historyLimit)
	}

	reply, err := s.backend.Complete(ctx, buildPromptMessages(systemPrompt, history, in.Get(pipeline.FieldPrompt)))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return nil, pipeline.Fail("rate_limited", err)
		}
		return nil, pipeline.Fail("backend_error", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, pipeline.Fail("empty_completion", errors.New("stage completion: backend returned an empty completion"))
	}
	s.logger.Debug("completion received", "user_id", userID, "history_turns", len(history), "chars", len(reply))

	return pipeline.Payload{
		pipeline.FieldUserID:     userID,
		pipeline.FieldCompletion: reply,
	}, nil
}

func (s *Completion) ensureSystemPrompt(ctx context.Context) (string, error) {
	s.promptMu.RLock()
	if s.promptLoaded || s.params == nil || s.promptParam == "" {
		prompt := s.systemPrompt
		s.promptMu.RUnlock()
		return prompt, nil
	}
	s.promptMu.RUnlock()

	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if s.promptLoaded {
		return s.systemPrompt, nil
	}

	prompt, err := s.params.GetParameter(ctx, s.promptParam)
	switch {
	case errors.Is(err, paramstore.ErrNotFound):
		prompt = ""
	case err != nil:
		return "", fmt.Errorf("stage completion: load system prompt: %w", err)
	}
	s.systemPrompt = strings.TrimSpace(prompt)
	s.promptLoaded = true
	return s.systemPrompt, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
