package domain

// ChatRequest represents an incoming OpenAI-style chat completion request.
// The model field is informational only: a single backing agent answers
// every request regardless of the value sent.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	// Temperature is optional; nil means the caller did not send one, so an
	// explicit 0 is still forwarded upstream.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// EventKind discriminates AgentEvent variants.
type EventKind int

const (
	// EventRunStarted signals that the upstream run has been accepted.
	EventRunStarted EventKind = iota

	// EventTextDelta carries one increment of assistant output text.
	EventTextDelta

	// EventRunCompleted signals a successful end of the run.
	EventRunCompleted

	// EventRunFailed signals a terminal upstream failure.
	EventRunFailed
)

// AgentEvent is one normalized event from an upstream agent run.
// Events for one request arrive in the order they were produced upstream;
// the sequence is finite and ends with EventRunCompleted or EventRunFailed.
type AgentEvent struct {
	Kind EventKind

	// Text holds the incremental content for EventTextDelta.
	Text string

	// Reason holds a human-readable failure description for EventRunFailed.
	Reason string

	// Err wraps the underlying error for EventRunFailed so callers can
	// classify it with errors.Is against the domain sentinels.
	Err error
}

// Usage tracks token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LastUserMessage returns the content of the most recent user message.
func LastUserMessage(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content, true
		}
	}
	return "", false
}

// SystemInstructions concatenates all system messages, preserving order.
// The result is forwarded to the upstream run as additional instructions.
func SystemInstructions(messages []Message) string {
	out := ""
	for _, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += msg.Content
	}
	return out
}
