package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davidbz/foundrygate/internal/domain"
	"github.com/davidbz/foundrygate/internal/observability"
	"github.com/davidbz/foundrygate/internal/openai"
)

// compatVersion is reported in the openai-version response header.
const compatVersion = "2020-10-01"

// Audit entry kinds, matching the request_type tag of the audit trail.
const (
	auditKindBuffered    = "chat_completion_non_streaming"
	auditKindStreaming   = "chat_completion_streaming"
	auditKindError       = "chat_completion_error"
	auditKindStreamError = "chat_completion_streaming_error"
)

// Handler handles HTTP requests.
type Handler struct {
	adapter  *domain.AdapterService
	counter  domain.TokenCounter
	recorder domain.AuditRecorder
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(adapter *domain.AdapterService, counter domain.TokenCounter, recorder domain.AuditRecorder) *Handler {
	return &Handler{
		adapter:  adapter,
		counter:  counter,
		recorder: recorder,
	}
}

// HandleChatCompletion processes chat completion requests.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Early validation.
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, openai.ErrorTypeInvalidRequest, "method not allowed")
		return
	}

	// Parse request.
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, openai.ErrorTypeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// Inject model into context for downstream logging.
	ctx = observability.WithModel(ctx, req.Model)

	logger := observability.FromContext(ctx)
	logger.Info("chat completion request received",
		observability.Int("messages", len(req.Messages)),
		observability.Bool("stream", req.Stream),
	)

	streaming := req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	// Validation failures and setup failures (auth, thread, run creation)
	// surface here, before any response byte is written, so they still get
	// a real HTTP status.
	events, err := h.adapter.Run(ctx, &req)
	if err != nil {
		status, errType, msg := mapError(err)
		logger.Error("run setup failed", observability.Error(err))
		writeError(w, status, errType, msg)
		if !errors.Is(err, domain.ErrValidation) {
			h.record(ctx, auditKindError, &req, map[string]any{"error": msg})
		}
		return
	}

	if streaming {
		h.streamResponse(ctx, w, &req, events)
		return
	}

	h.bufferedResponse(ctx, w, &req, events)
}

// bufferedResponse drains the whole run before returning any byte to the
// caller, then writes one aggregated completion body.
func (h *Handler) bufferedResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req *domain.ChatRequest,
	events <-chan domain.AgentEvent,
) {
	logger := observability.FromContext(ctx)

	translator := openai.NewTranslator(req, h.counter)
	for ev := range events {
		translator.Feed(ev)
	}

	response, err := translator.Response()
	if err != nil {
		status, errType, msg := mapError(err)
		logger.Error("completion failed", observability.Error(err))
		writeError(w, status, errType, msg)
		h.record(ctx, auditKindError, req, map[string]any{
			"error":           msg,
			"partial_content": translator.Content(),
		})
		return
	}

	logger.Info("completion succeeded",
		observability.Int("tokens", response.Usage.TotalTokens),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("openai-version", compatVersion)
	w.Header().Set("openai-model", response.Model)
	w.Header().Set("x-request-id", response.ID)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logger.Error("failed to encode response", observability.Error(encodeErr))
		return
	}

	h.record(ctx, auditKindBuffered, req, response)
}

// streamResponse emits one SSE data frame per translated chunk, a terminal
// chunk, and the [DONE] sentinel. Once streaming has begun the HTTP status
// stays 200: upstream failures become a terminal error chunk, never an
// aborted connection.
func (h *Handler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req *domain.ChatRequest,
	events <-chan domain.AgentEvent,
) {
	logger := observability.FromContext(ctx)
	logger.Info("stream request started")

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, openai.ErrorTypeServer, "streaming not supported")
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	translator := openai.NewTranslator(req, h.counter)
	chunkCount := 0

	writeChunks := func(chunks []openai.ChatCompletionChunk) {
		for _, chunk := range chunks {
			data, err := json.Marshal(chunk)
			if err != nil {
				logger.Error("failed to marshal chunk", observability.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			chunkCount++
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected: the run context is cancelled, which
			// tears down the upstream subscription.
			logger.Info("client disconnected mid-stream", observability.Error(ctx.Err()))
			h.record(ctx, auditKindStreamError, req, map[string]any{
				"error":               "client disconnected",
				"chunks_before_error": chunkCount,
				"partial_content":     translator.Content(),
			})
			return

		case ev, open := <-events:
			if !open {
				if !translator.Done() {
					// Upstream closed without a terminal event.
					writeChunks(translator.Feed(domain.AgentEvent{
						Kind:   domain.EventRunFailed,
						Reason: "upstream stream ended unexpectedly",
						Err:    domain.ErrRunFailed,
					}))
				}
			} else {
				writeChunks(translator.Feed(ev))
			}

			if !translator.Done() {
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", openai.DoneSentinel)
			flusher.Flush()

			kind := auditKindStreaming
			if translator.Err() != nil {
				kind = auditKindStreamError
				logger.Error("stream finished with error", observability.Error(translator.Err()))
			} else {
				logger.Info("stream completed", observability.Int("chunks", chunkCount))
			}

			h.record(ctx, kind, req, map[string]any{
				"full_content": translator.Content(),
				"chunk_count":  chunkCount,
			})
			return
		}
	}
}

// HandleModels returns the static single-entry model list for the backing agent.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, openai.ErrorTypeInvalidRequest, "method not allowed")
		return
	}

	list := openai.ModelList{
		Object: openai.ObjectList,
		Data: []openai.Model{
			{
				ID:      openai.ModelID,
				Object:  openai.ObjectModel,
				Created: time.Now().Unix(),
				OwnedBy: openai.ModelOwner,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		observability.FromContext(r.Context()).Error("failed to encode model list", observability.Error(err))
	}
}

// HandleHealth reports adapter process liveness. It deliberately does not
// probe upstream agent reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

// record writes an audit entry; failures are logged and never fail the request.
func (h *Handler) record(ctx context.Context, kind string, request, response any) {
	if h.recorder == nil {
		return
	}
	if _, err := h.recorder.Record(ctx, kind, request, response); err != nil {
		observability.FromContext(ctx).Warn("failed to save audit data", observability.Error(err))
	}
}

// mapError translates the domain error taxonomy into an HTTP status and an
// OpenAI-shaped error payload. Auth failures get a generic message so no
// credential detail leaks to clients.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, openai.ErrorTypeInvalidRequest, err.Error()
	case errors.Is(err, domain.ErrUpstreamAuth):
		return http.StatusBadGateway, openai.ErrorTypeUpstream, "upstream authentication failed"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, openai.ErrorTypeTimeout, "upstream request timed out"
	case errors.Is(err, domain.ErrRunFailed):
		return http.StatusInternalServerError, openai.ErrorTypeUpstream, err.Error()
	default:
		return http.StatusInternalServerError, openai.ErrorTypeServer, "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
