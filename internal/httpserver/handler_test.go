package httpserver //nolint:testpackage // Exercises unexported error mapping through the handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/foundrygate/internal/domain"
	"github.com/davidbz/foundrygate/internal/openai"
)

type scriptedRunner struct {
	events []domain.AgentEvent
	err    error
	calls  int
}

func (r *scriptedRunner) Run(_ context.Context, _ *domain.ChatRequest) (<-chan domain.AgentEvent, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}

	ch := make(chan domain.AgentEvent, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type recordedEntry struct {
	kind     string
	request  any
	response any
}

type memoryRecorder struct {
	entries []recordedEntry
}

func (r *memoryRecorder) Record(_ context.Context, kind string, request, response any) (string, error) {
	r.entries = append(r.entries, recordedEntry{kind: kind, request: request, response: response})
	return "test-audit-id", nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func newTestHandler(runner domain.AgentRunner, recorder domain.AuditRecorder) *Handler {
	return NewHandler(domain.NewAdapterService(runner), wordCounter{}, recorder)
}

func successEvents() []domain.AgentEvent {
	return []domain.AgentEvent{
		{Kind: domain.EventRunStarted},
		{Kind: domain.EventTextDelta, Text: "4"},
		{Kind: domain.EventRunCompleted},
	}
}

func completionRequest(stream bool) *http.Request {
	body := fmt.Sprintf(`{"model":"foundry-agent-model","messages":[{"role":"user","content":"Hello, what is 2+2?"}],"temperature":0.7,"stream":%t}`, stream)
	return httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
}

// sseDataFrames splits an SSE body into its data payloads, in order.
func sseDataFrames(t *testing.T, body string) []string {
	t.Helper()

	var frames []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected SSE frame: %q", block)
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

func decodeChunk(t *testing.T, frame string) openai.ChatCompletionChunk {
	t.Helper()

	var chunk openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(frame), &chunk))
	return chunk
}

func TestHandleChatCompletion_Buffered(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	recorder := &memoryRecorder{}
	handler := newTestHandler(runner, recorder)

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(false))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "2020-10-01", w.Header().Get("openai-version"))
	require.Equal(t, "foundry-agent-model", w.Header().Get("openai-model"))
	require.NotEmpty(t, w.Header().Get("x-request-id"))

	var resp openai.ChatCompletionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, openai.ObjectChatCompletion, resp.Object)
	require.Equal(t, "foundry-agent-model", resp.Model)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "4", resp.Choices[0].Message.Content)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
	require.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	require.Equal(t, resp.ID, w.Header().Get("x-request-id"))

	require.Equal(t, 1, runner.calls)
	require.Len(t, recorder.entries, 1)
	require.Equal(t, auditKindBuffered, recorder.entries[0].kind)
}

func TestHandleChatCompletion_Streaming(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	recorder := &memoryRecorder{}
	handler := newTestHandler(runner, recorder)

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(true))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := sseDataFrames(t, w.Body.String())
	require.Len(t, frames, 4) // role chunk, content chunk, finish chunk, [DONE]
	require.Equal(t, openai.DoneSentinel, frames[len(frames)-1])

	role := decodeChunk(t, frames[0])
	require.Equal(t, "assistant", role.Choices[0].Delta.Role)
	require.Nil(t, role.Choices[0].FinishReason)

	content := decodeChunk(t, frames[1])
	require.NotNil(t, content.Choices[0].Delta.Content)
	require.Equal(t, "4", *content.Choices[0].Delta.Content)

	finish := decodeChunk(t, frames[2])
	require.NotNil(t, finish.Choices[0].FinishReason)
	require.Equal(t, openai.FinishReasonStop, *finish.Choices[0].FinishReason)
	require.Nil(t, finish.Error)

	// id and created are identical across every chunk of the stream.
	for _, frame := range frames[:3] {
		chunk := decodeChunk(t, frame)
		require.Equal(t, role.ID, chunk.ID)
		require.Equal(t, role.Created, chunk.Created)
		require.Equal(t, openai.ObjectChatCompletionChunk, chunk.Object)
	}

	require.Len(t, recorder.entries, 1)
	require.Equal(t, auditKindStreaming, recorder.entries[0].kind)
}

func TestHandleChatCompletion_StreamMatchesBuffered(t *testing.T) {
	events := []domain.AgentEvent{
		{Kind: domain.EventRunStarted},
		{Kind: domain.EventTextDelta, Text: "The answer "},
		{Kind: domain.EventTextDelta, Text: "is "},
		{Kind: domain.EventTextDelta, Text: "4."},
		{Kind: domain.EventRunCompleted},
	}

	buffered := httptest.NewRecorder()
	newTestHandler(&scriptedRunner{events: events}, &memoryRecorder{}).
		HandleChatCompletion(buffered, completionRequest(false))

	var resp openai.ChatCompletionResponse
	require.NoError(t, json.NewDecoder(buffered.Body).Decode(&resp))

	streamed := httptest.NewRecorder()
	newTestHandler(&scriptedRunner{events: events}, &memoryRecorder{}).
		HandleChatCompletion(streamed, completionRequest(true))

	var concat strings.Builder
	frames := sseDataFrames(t, streamed.Body.String())
	for _, frame := range frames {
		if frame == openai.DoneSentinel {
			continue
		}
		chunk := decodeChunk(t, frame)
		if chunk.Choices[0].FinishReason != nil {
			continue
		}
		if chunk.Choices[0].Delta.Content != nil {
			concat.WriteString(*chunk.Choices[0].Delta.Content)
		}
	}

	require.Equal(t, resp.Choices[0].Message.Content, concat.String())
	require.Equal(t, "The answer is 4.", concat.String())
}

func TestHandleChatCompletion_DistinctIDsAcrossRequests(t *testing.T) {
	first := httptest.NewRecorder()
	newTestHandler(&scriptedRunner{events: successEvents()}, &memoryRecorder{}).
		HandleChatCompletion(first, completionRequest(true))

	second := httptest.NewRecorder()
	newTestHandler(&scriptedRunner{events: successEvents()}, &memoryRecorder{}).
		HandleChatCompletion(second, completionRequest(true))

	firstID := decodeChunk(t, sseDataFrames(t, first.Body.String())[0]).ID
	secondID := decodeChunk(t, sseDataFrames(t, second.Body.String())[0]).ID
	require.NotEqual(t, firstID, secondID)
}

func TestHandleChatCompletion_AcceptHeaderTriggersStreaming(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	handler := newTestHandler(runner, &memoryRecorder{})

	req := completionRequest(false)
	req.Header.Set("Accept", "text/event-stream")

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	frames := sseDataFrames(t, w.Body.String())
	require.Equal(t, openai.DoneSentinel, frames[len(frames)-1])
}

func TestHandleChatCompletion_EmptyMessages(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	handler := newTestHandler(runner, &memoryRecorder{})

	body := `{"model":"foundry-agent-model","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, runner.calls, "upstream must not be called for invalid requests")

	var errResp openai.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	require.Equal(t, openai.ErrorTypeInvalidRequest, errResp.Error.Type)
	require.Contains(t, errResp.Error.Message, "messages")
}

func TestHandleChatCompletion_MissingModel(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	handler := newTestHandler(runner, &memoryRecorder{})

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, runner.calls)
}

func TestHandleChatCompletion_NoUserMessage(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	handler := newTestHandler(runner, &memoryRecorder{})

	body := `{"model":"foundry-agent-model","messages":[{"role":"system","content":"be nice"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, runner.calls)
}

func TestHandleChatCompletion_TemperatureOutOfRange(t *testing.T) {
	runner := &scriptedRunner{events: successEvents()}
	handler := newTestHandler(runner, &memoryRecorder{})

	body := `{"model":"foundry-agent-model","messages":[{"role":"user","content":"hi"}],"temperature":3.5}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, runner.calls)
}

func TestHandleChatCompletion_InvalidJSON(t *testing.T) {
	handler := newTestHandler(&scriptedRunner{}, &memoryRecorder{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("invalid json")))
	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatCompletion_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&scriptedRunner{}, &memoryRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleChatCompletion_UpstreamAuthError(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("%w: AADSTS700016", domain.ErrUpstreamAuth)}
	handler := newTestHandler(runner, &memoryRecorder{})

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(false))

	require.Equal(t, http.StatusBadGateway, w.Code)

	var errResp openai.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	require.Equal(t, openai.ErrorTypeUpstream, errResp.Error.Type)
	// Generic message only: upstream credential detail must not leak.
	require.Equal(t, "upstream authentication failed", errResp.Error.Message)
}

func TestHandleChatCompletion_UpstreamTimeout(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("%w: no response", domain.ErrUpstreamTimeout)}
	handler := newTestHandler(runner, &memoryRecorder{})

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(false))

	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	var errResp openai.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	require.Equal(t, openai.ErrorTypeTimeout, errResp.Error.Type)
}

func TestHandleChatCompletion_RunFailedBuffered(t *testing.T) {
	runner := &scriptedRunner{events: []domain.AgentEvent{
		{Kind: domain.EventRunStarted},
		{Kind: domain.EventTextDelta, Text: "partial"},
		{Kind: domain.EventRunFailed, Reason: "quota exceeded"},
	}}
	recorder := &memoryRecorder{}
	handler := newTestHandler(runner, recorder)

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(false))

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var errResp openai.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	require.Equal(t, openai.ErrorTypeUpstream, errResp.Error.Type)
	require.Contains(t, errResp.Error.Message, "quota exceeded")

	require.Len(t, recorder.entries, 1)
	require.Equal(t, auditKindError, recorder.entries[0].kind)
}

func TestHandleChatCompletion_RunFailedStreaming(t *testing.T) {
	runner := &scriptedRunner{events: []domain.AgentEvent{
		{Kind: domain.EventRunStarted},
		{Kind: domain.EventTextDelta, Text: "partial"},
		{Kind: domain.EventRunFailed, Reason: "quota exceeded"},
	}}
	recorder := &memoryRecorder{}
	handler := newTestHandler(runner, recorder)

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(true))

	// Streaming already started: status stays 200 and the failure arrives
	// as the terminal chunk.
	require.Equal(t, http.StatusOK, w.Code)

	frames := sseDataFrames(t, w.Body.String())
	require.Equal(t, openai.DoneSentinel, frames[len(frames)-1])

	terminal := decodeChunk(t, frames[len(frames)-2])
	require.NotNil(t, terminal.Choices[0].FinishReason)
	require.Equal(t, openai.FinishReasonError, *terminal.Choices[0].FinishReason)
	require.NotNil(t, terminal.Error)
	require.Equal(t, "quota exceeded", terminal.Error.Message)

	require.Len(t, recorder.entries, 1)
	require.Equal(t, auditKindStreamError, recorder.entries[0].kind)
}

func TestHandleChatCompletion_UpstreamClosesWithoutTerminal(t *testing.T) {
	runner := &scriptedRunner{events: []domain.AgentEvent{
		{Kind: domain.EventRunStarted},
		{Kind: domain.EventTextDelta, Text: "half"},
	}}
	handler := newTestHandler(runner, &memoryRecorder{})

	w := httptest.NewRecorder()
	handler.HandleChatCompletion(w, completionRequest(true))

	require.Equal(t, http.StatusOK, w.Code)

	frames := sseDataFrames(t, w.Body.String())
	require.Equal(t, openai.DoneSentinel, frames[len(frames)-1])

	terminal := decodeChunk(t, frames[len(frames)-2])
	require.NotNil(t, terminal.Choices[0].FinishReason)
	require.Equal(t, openai.FinishReasonError, *terminal.Choices[0].FinishReason)
}

func TestHandleModels(t *testing.T) {
	handler := newTestHandler(&scriptedRunner{}, &memoryRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	handler.HandleModels(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var list openai.ModelList
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Equal(t, openai.ObjectList, list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, openai.ModelID, list.Data[0].ID)
	require.Equal(t, openai.ObjectModel, list.Data[0].Object)
	require.Equal(t, openai.ModelOwner, list.Data[0].OwnedBy)
}

func TestHandleHealth(t *testing.T) {
	handler := newTestHandler(&scriptedRunner{}, &memoryRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.HandleHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "ok", response["status"])
}
