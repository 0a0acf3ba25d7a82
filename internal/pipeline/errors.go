package pipeline

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorInvalidInput     ErrorKind = "INVALID_INPUT"
	ErrorTranscriptFailed ErrorKind = "TRANSCRIPT_FAILED"
	ErrorCompletionFailed ErrorKind = "COMPLETION_FAILED"
	ErrorSpeechFailed     ErrorKind = "SPEECH_FAILED"
	ErrorStageTimeout     ErrorKind = "STAGE_TIMEOUT"
	ErrorMapping          ErrorKind = "MAPPING_ERROR"
)

// Error is the single typed failure returned by the orchestrator. Runtime
// failures always name exactly one stage.
type Error struct {
	Kind   ErrorKind
	Stage  StageName
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := fmt.Sprintf("pipeline: %s", e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("pipeline: %s(%s)", e.Kind, e.Stage)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", prefix, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", prefix, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, stage StageName, reason string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason, Err: err}
}

func mappingError(stage StageName, format string, args ...any) *Error {
	return newError(ErrorMapping, stage, fmt.Sprintf(format, args...), nil)
}

// failureKind is the error kind reported when the named stage fails for any
// reason other than its deadline.
func failureKind(stage StageName) ErrorKind {
	switch stage {
	case StageTranscript:
		return ErrorTranscriptFailed
	case StageCompletion:
		return ErrorCompletionFailed
	case StageSpeech:
		return ErrorSpeechFailed
	default:
		return ErrorKind(fmt.Sprintf("%s_FAILED", stage))
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if !errors.As(err, &pe) {
		return nil, false
	}
	return pe, true
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == kind
}

// Fail annotates a stage error with a short machine-readable reason, such as
// "rate_limited" or "write_conflict". The orchestrator copies it into
// Error.Reason.
func Fail(reason string, err error) error {
	if err == nil {
		err = errors.New(reason)
	}
	return &stageFailure{reason: reason, err: err}
}

type stageFailure struct {
	reason string
	err    error
}

func (f *stageFailure) Error() string { return f.err.Error() }

func (f *stageFailure) Unwrap() error { return f.err }

// FailureReason returns the reason attached with Fail, or fallback.
func FailureReason(err error, fallback string) string {
	var f *stageFailure
	if errors.As(err, &f) && f.reason != "" {
		return f.reason
	}
	return fallback
}
