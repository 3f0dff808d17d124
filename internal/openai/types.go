// Package openai defines the OpenAI-compatible wire shapes served by the
// adapter and the translator that maps upstream agent events onto them.
package openai

// Fixed identifiers for the single backing agent.
const (
	// ModelID is the model id the backing agent is exposed under.
	ModelID = "foundry-agent-model"

	// ModelOwner is reported as owned_by in the model list.
	ModelOwner = "foundry"
)

// Object type discriminators.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectModel               = "model"
	ObjectList                = "list"
)

// Finish reasons carried on the terminal choice of a completion or stream.
const (
	FinishReasonStop  = "stop"
	FinishReasonError = "error"
)

// DoneSentinel is the literal SSE payload that closes a stream.
const DoneSentinel = "[DONE]"

// ChatMessage is a fully formed message on a non-streaming choice.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion alternative on a non-streaming response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage is the token accounting block on a non-streaming response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the buffered response body.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental payload on a streaming choice. Content is a
// pointer so the first chunk can carry an explicit empty string while the
// terminal chunk omits the field entirely.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// StreamChoice is one choice on a streaming chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE data frame of a streaming completion.
// Error is set only on the terminal chunk of a failed run; chunks already
// sent stay valid and the HTTP status remains 200, per OpenAI streaming
// convention.
type ChatCompletionChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the OpenAI-shaped error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse is the body returned for non-200 responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// Error types used in ErrorDetail.Type.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeUpstream       = "upstream_error"
	ErrorTypeTimeout        = "timeout_error"
	ErrorTypeServer         = "server_error"
)

// Model describes one entry of the model list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
