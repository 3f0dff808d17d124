package foundry

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/davidbz/foundrygate/internal/domain"
	"github.com/davidbz/foundrygate/internal/observability"
)

const (
	scanBufInitial = 64 * 1024
	scanBufMax     = 1024 * 1024
)

// streamEvents reads the upstream SSE stream and forwards normalized events
// until a terminal event or context cancellation. It owns the response body
// and the event channel.
func (c *Client) streamEvents(ctx context.Context, resp *http.Response, threadID string, events chan<- domain.AgentEvent) {
	defer close(events)
	defer resp.Body.Close()

	logger := observability.FromContext(ctx)

	var (
		runID    string
		started  bool
		terminal bool
	)

	send := func(ev domain.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Dispatch one complete SSE event. Returns false when reading should stop.
	dispatch := func(name, data string) bool {
		switch name {
		case "thread.run.created", "thread.run.queued", "thread.run.in_progress":
			if id := gjson.Get(data, "id").String(); id != "" && id != runID {
				runID = id
				ctx = observability.WithRunID(ctx, runID)
				logger = observability.FromContext(ctx)
			}
			if !started {
				started = true
				return send(domain.AgentEvent{Kind: domain.EventRunStarted})
			}
			return true

		case "thread.message.delta":
			if !started {
				started = true
				if !send(domain.AgentEvent{Kind: domain.EventRunStarted}) {
					return false
				}
			}
			for _, part := range gjson.Get(data, "delta.content").Array() {
				text := part.Get("text.value")
				if !text.Exists() {
					continue
				}
				if !send(domain.AgentEvent{Kind: domain.EventTextDelta, Text: text.String()}) {
					return false
				}
			}
			return true

		case "thread.run.completed":
			terminal = true
			send(domain.AgentEvent{Kind: domain.EventRunCompleted})
			return false

		case "thread.run.failed", "thread.run.cancelled", "thread.run.expired", "error":
			terminal = true
			reason := gjson.Get(data, "last_error.message").String()
			if reason == "" {
				reason = gjson.Get(data, "message").String()
			}
			if reason == "" {
				reason = name
			}
			send(domain.AgentEvent{
				Kind:   domain.EventRunFailed,
				Reason: reason,
				Err:    fmt.Errorf("%w: %s", domain.ErrRunFailed, reason),
			})
			return false

		case "done":
			return false

		default:
			// Step and message lifecycle events carry nothing the
			// translator needs.
			return true
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if eventName != "" || data.Len() > 0 {
				if !dispatch(eventName, data.String()) {
					c.finishStream(ctx, threadID, runID, terminal)
					return
				}
			}
			eventName = ""
			data.Reset()

		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if !terminal {
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("%w: upstream stream ended unexpectedly", domain.ErrRunFailed)
		} else {
			err = classifyTransport(err)
		}
		logger.Error("upstream stream broke", observability.Error(err))
		send(domain.AgentEvent{Kind: domain.EventRunFailed, Reason: "upstream stream interrupted", Err: err})
	}

	c.finishStream(ctx, threadID, runID, terminal)
}

// finishStream cancels the upstream run when the consumer went away before
// the run reached a terminal state.
func (c *Client) finishStream(ctx context.Context, threadID, runID string, terminal bool) {
	if terminal || ctx.Err() == nil {
		return
	}
	c.cancelRun(threadID, runID)
}
