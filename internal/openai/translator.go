package openai

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/foundrygate/internal/domain"
)

// completionIDLen matches the hex suffix length of OpenAI completion ids.
const completionIDLen = 29

type state int

const (
	stateIdle state = iota
	stateStreaming
	stateCompleted
	stateFailed
)

// Translator converts the event sequence of one agent run into OpenAI
// chat-completion shapes. The synthetic id and created timestamp are fixed
// at construction and reused across every chunk of the request so clients
// can correlate them. A Translator serves exactly one run and is not safe
// for concurrent use; each request owns its own instance.
type Translator struct {
	id      string
	created int64
	model   string
	prompt  string
	counter domain.TokenCounter

	state   state
	content strings.Builder
	runErr  error
}

// NewTranslator creates a translator for one validated request.
func NewTranslator(req *domain.ChatRequest, counter domain.TokenCounter) *Translator {
	prompt, _ := domain.LastUserMessage(req.Messages)

	return &Translator{
		id:      newCompletionID(),
		created: time.Now().Unix(),
		model:   req.Model,
		prompt:  prompt,
		counter: counter,
		state:   stateIdle,
	}
}

// ID returns the synthetic completion id shared by all chunks of the request.
func (t *Translator) ID() string {
	return t.id
}

// Feed advances the state machine with one upstream event and returns the
// chunks to emit for it, in order. Content deltas pass through byte-for-byte;
// nothing is merged, reordered, or re-sent. Events arriving after a terminal
// state produce no chunks.
func (t *Translator) Feed(ev domain.AgentEvent) []ChatCompletionChunk {
	if t.Done() {
		return nil
	}

	switch ev.Kind {
	case domain.EventRunStarted:
		if t.state != stateIdle {
			return nil
		}
		t.state = stateStreaming
		return []ChatCompletionChunk{t.roleChunk()}

	case domain.EventTextDelta:
		var chunks []ChatCompletionChunk
		if t.state == stateIdle {
			// Upstream skipped the run-started event; open the stream anyway.
			t.state = stateStreaming
			chunks = append(chunks, t.roleChunk())
		}
		t.content.WriteString(ev.Text)
		chunks = append(chunks, t.contentChunk(ev.Text))
		return chunks

	case domain.EventRunCompleted:
		t.state = stateCompleted
		return []ChatCompletionChunk{t.finishChunk(FinishReasonStop, nil)}

	case domain.EventRunFailed:
		t.state = stateFailed
		t.runErr = ev.Err
		if t.runErr == nil {
			t.runErr = fmt.Errorf("%w: %s", domain.ErrRunFailed, ev.Reason)
		}
		detail := &ErrorDetail{
			Message: failureMessage(ev),
			Type:    ErrorTypeUpstream,
		}
		return []ChatCompletionChunk{t.finishChunk(FinishReasonError, detail)}
	}

	return nil
}

// Done reports whether a terminal event has been consumed.
func (t *Translator) Done() bool {
	return t.state == stateCompleted || t.state == stateFailed
}

// Err returns the run error after a failed run, nil otherwise.
func (t *Translator) Err() error {
	return t.runErr
}

// Content returns the text accumulated so far, the exact in-order
// concatenation of all consumed deltas.
func (t *Translator) Content() string {
	return t.content.String()
}

// Response builds the buffered completion body. It may only be called after
// the whole run has been drained; a failed run returns the run error instead
// of a body.
func (t *Translator) Response() (*ChatCompletionResponse, error) {
	switch t.state {
	case stateFailed:
		return nil, t.runErr
	case stateCompleted:
	default:
		return nil, fmt.Errorf("%w: upstream stream ended before run completion", domain.ErrRunFailed)
	}

	content := t.content.String()
	promptTokens := t.counter.Count(t.prompt)
	completionTokens := t.counter.Count(content)

	return &ChatCompletionResponse{
		ID:      t.id,
		Object:  ObjectChatCompletion,
		Created: t.created,
		Model:   t.model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: content},
				FinishReason: FinishReasonStop,
			},
		},
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (t *Translator) roleChunk() ChatCompletionChunk {
	empty := ""
	return t.chunk(StreamChoice{
		Index: 0,
		Delta: Delta{Role: "assistant", Content: &empty},
	}, nil)
}

func (t *Translator) contentChunk(text string) ChatCompletionChunk {
	return t.chunk(StreamChoice{
		Index: 0,
		Delta: Delta{Content: &text},
	}, nil)
}

func (t *Translator) finishChunk(reason string, detail *ErrorDetail) ChatCompletionChunk {
	return t.chunk(StreamChoice{
		Index:        0,
		Delta:        Delta{},
		FinishReason: &reason,
	}, detail)
}

func (t *Translator) chunk(choice StreamChoice, detail *ErrorDetail) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      t.id,
		Object:  ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.model,
		Choices: []StreamChoice{choice},
		Error:   detail,
	}
}

func failureMessage(ev domain.AgentEvent) string {
	if ev.Reason != "" {
		return ev.Reason
	}
	if ev.Err != nil {
		return ev.Err.Error()
	}
	return "agent run failed"
}

func newCompletionID() string {
	u := uuid.New()
	return "chatcmpl-" + hex.EncodeToString(u[:])[:completionIDLen]
}
