package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"red-ai/internal/domain"
	"red-ai/internal/integrations/s3store"
	"red-ai/internal/logging"
	"red-ai/internal/pipeline"
	"red-ai/internal/speech"
)

// AudioStore writes an object once at exactly key. It returns the object's
// public URL, or "" when the store has none.
type AudioStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// AudioKey is the storage key of the audio produced by one run. The run id
// keeps concurrent runs of the same user apart.
func AudioKey(userID, runID string) string {
	return userID + "/" + runID
}

// Speech synthesizes the completion with the configured backend and stores
// the audio.
type Speech struct {
	Descriptor
	backend speech.Backend
	store   AudioStore
	logger  *slog.Logger
}

func NewSpeech(backend speech.Backend, store AudioStore) (*Speech, error) {
	if backend == nil {
		return nil, errors.New("stage: speech backend must not be nil")
	}
	if store == nil {
		return nil, errors.New("stage: audio store must not be nil")
	}
	return &Speech{
		Descriptor: speechDescriptor,
		backend:    backend,
		store:      store,
		logger:     logging.New("stage.speech"),
	}, nil
}

func (s *Speech) Run(ctx context.Context, in pipeline.Payload) (pipeline.Payload, error) {
	in, err := requireInputs(s.Descriptor, in)
	if err != nil {
		return nil, err
	}

	audio, err := s.backend.Synthesize(ctx, in.Get(pipeline.FieldText))
	if err != nil {
		return nil, pipeline.Fail("synthesis_error", err)
	}

	artifact := domain.AudioArtifact{
		StorageKey: AudioKey(in.Get(pipeline.FieldUserID), in.Get(pipeline.FieldRunID)),
		UserID:     in.Get(pipeline.FieldUserID),
	}
	artifact.URL, err = s.store.Put(ctx, artifact.StorageKey, audio.Bytes, audio.ContentType)
	if err != nil {
		if errors.Is(err, s3store.ErrObjectExists) {
			return nil, pipeline.Fail("audio_exists", err)
		}
		return nil, pipeline.Fail("storage_error", fmt.Errorf("stage speech: %w", err))
	}
	s.logger.Debug("audio stored", "user_id", artifact.UserID, "key", artifact.StorageKey,
		"backend", s.backend.Kind(), "bytes", len(audio.Bytes))

	out := pipeline.Payload{pipeline.FieldAudioRef: artifact.StorageKey}
	if artifact.URL != "" {
		out[pipeline.FieldAudioURL] = artifact.URL
	}
	return out, nil
}
