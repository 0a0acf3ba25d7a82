// Package handler adapts trigger events to pipeline runs. Direct Lambda
// invocations, API Gateway proxy requests and plain HTTP requests all end in
// the same orchestrator call.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"red-ai/internal/domain"
	"red-ai/internal/logging"
	"red-ai/internal/pipeline"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
	errorInternal     = "INTERNAL_ERROR"
)

// Runner executes one pipeline run.
type Runner interface {
	Execute(ctx context.Context, in domain.PipelineInput) (domain.PipelineResult, error)
}

// TriggerRequest is the entry payload. Message is accepted as an alias of
// Prompt.
type TriggerRequest struct {
	UserID  string `json:"user_id"`
	Prompt  string `json:"prompt"`
	Message string `json:"message,omitempty"`
}

func (r TriggerRequest) input() domain.PipelineInput {
	prompt := r.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = r.Message
	}
	return domain.PipelineInput{UserID: r.UserID, Prompt: prompt}
}

type errorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// InvokeResponse is returned to direct invocations: the run result on
// success, Error otherwise.
type InvokeResponse struct {
	*domain.PipelineResult
	Error *errorResponse `json:"error,omitempty"`
}

type Handler struct {
	runner Runner
	logger *slog.Logger
}

func NewHandler(r Runner) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: runner must not be nil")
	}
	return &Handler{runner: r, logger: logging.New("handler")}, nil
}

// Invoke serves direct Lambda invocations.
func (h *Handler) Invoke(ctx context.Context, req TriggerRequest) (InvokeResponse, error) {
	res, err := h.runner.Execute(ctx, req.input())
	if err != nil {
		_, body := h.failure(err, "")
		return InvokeResponse{Error: &body}, nil
	}
	return InvokeResponse{PipelineResult: &res}, nil
}

// Handle serves API Gateway proxy requests.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	status, body := h.process(ctx, []byte(event.Body), correlationID)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}, nil
}

// ServeHTTP serves POST requests carrying a TriggerRequest body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, correlationID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: string(pipeline.ErrorInvalidInput), Reason: "method_not_allowed"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(pipeline.ErrorInvalidInput), Reason: "unreadable_body"})
		return
	}
	status, body := h.process(r.Context(), raw, correlationID)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) process(ctx context.Context, raw []byte, correlationID string) (int, []byte) {
	logger := h.logger.With("correlation_id", correlationID)

	var req TriggerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Warn("invalid request body", "err", err)
		return marshal(http.StatusBadRequest, errorResponse{Error: string(pipeline.ErrorInvalidInput), Reason: "invalid_json"})
	}

	res, err := h.runner.Execute(ctx, req.input())
	if err != nil {
		status, body := h.failure(err, correlationID)
		return marshal(status, body)
	}
	return marshal(http.StatusOK, res)
}

// failure maps a run error to an HTTP status and response body.
func (h *Handler) failure(err error, correlationID string) (int, errorResponse) {
	pe, ok := pipeline.AsError(err)
	if !ok {
		h.logger.Error("unexpected run error", "correlation_id", correlationID, "err", err)
		return http.StatusInternalServerError, errorResponse{Error: errorInternal}
	}
	body := errorResponse{Error: string(pe.Kind), Stage: string(pe.Stage), Reason: pe.Reason}
	switch pe.Kind {
	case pipeline.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case pipeline.ErrorStageTimeout:
		return http.StatusGatewayTimeout, body
	case pipeline.ErrorTranscriptFailed, pipeline.ErrorCompletionFailed, pipeline.ErrorSpeechFailed:
		if pe.Reason == "rate_limited" {
			return http.StatusTooManyRequests, body
		}
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func marshal(status int, v any) (int, []byte) {
	b, err := json.Marshal(v)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":"` + errorInternal + `"}`)
	}
	return status, b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	status, body := marshal(status, v)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
