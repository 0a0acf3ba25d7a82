package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"red-ai/internal/domain"
	"red-ai/internal/logging"
	"red-ai/internal/pipeline"
	"red-ai/internal/repository"
)

// TurnWriter creates conversation turns.
type TurnWriter interface {
	NewTurn(userID, runID, prompt string) domain.ConversationTurn
	PutTurn(ctx context.Context, turn domain.ConversationTurn) error
}

// Transcript persists the prompt as a new conversation turn before any
// completion is requested.
type Transcript struct {
	Descriptor
	store  TurnWriter
	logger *slog.Logger
}

func NewTranscript(store TurnWriter) (*Transcript, error) {
	if store == nil {
		return nil, errors.New("stage: turn writer must not be nil")
	}
	return &Transcript{
		Descriptor: transcriptDescriptor,
		store:      store,
		logger:     logging.New("stage.transcript"),
	}, nil
}

func (s *Transcript) Run(ctx context.Context, in pipeline.Payload) (pipeline.Payload, error) {
	in, err := requireInputs(s.Descriptor, in)
	if err != nil {
		return nil, err
	}
	turn := s.store.NewTurn(in.Get(pipeline.FieldUserID), in.Get(pipeline.FieldRunID), in.Get(pipeline.FieldPrompt))

	if err := s.store.PutTurn(ctx, turn); err != nil {
		if errors.Is(err, repository.ErrTurnExists) {
			return nil, pipeline.Fail("write_conflict", err)
		}
		return nil, pipeline.Fail("store_error", fmt.Errorf("stage transcript: %w", err))
	}
	s.logger.Debug("turn written", "user_id", turn.UserID, "timestamp", turn.Timestamp)

	return pipeline.Payload{
		pipeline.FieldUserID:    turn.UserID,
		pipeline.FieldTimestamp: turn.Timestamp,
		pipeline.FieldPrompt:    turn.Prompt,
	}, nil
}
