package domain

import "errors"

// Error taxonomy for the adapter. Sentinels are wrapped with context at the
// point of failure and classified with errors.Is at the HTTP edge.
var (
	// ErrValidation indicates a malformed or incomplete request. Rejected
	// before any upstream call is made.
	ErrValidation = errors.New("invalid request")

	// ErrUpstreamAuth indicates a credential or token acquisition failure
	// against the upstream agent service.
	ErrUpstreamAuth = errors.New("upstream authentication failed")

	// ErrUpstreamTimeout indicates the upstream did not respond within the
	// configured bound.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrRunFailed indicates an agent-side failure during a run.
	ErrRunFailed = errors.New("agent run failed")
)
