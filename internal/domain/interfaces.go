package domain

import "context"

// AgentRunner starts upstream agent runs.
type AgentRunner interface {
	// Run starts one agent run for the request and returns a finite,
	// non-restartable sequence of events. Setup failures (authentication,
	// thread creation, run creation) are returned as an error before any
	// event is produced; once the channel exists, failures arrive as a
	// single EventRunFailed and the channel is closed. A second call always
	// starts a new upstream run.
	Run(ctx context.Context, req *ChatRequest) (<-chan AgentEvent, error)
}

// TokenCounter estimates token counts for usage reporting.
type TokenCounter interface {
	// Count returns the number of tokens in text.
	Count(text string) int
}

// AuditRecorder persists request/response pairs for the audit trail.
type AuditRecorder interface {
	// Record writes one audit entry and returns its id. Implementations
	// must never fail the request path: errors are reported to the caller
	// for logging only.
	Record(ctx context.Context, kind string, request, response any) (string, error)
}
