package domain

import (
	"context"
	"fmt"

	"github.com/davidbz/foundrygate/internal/observability"
)

const (
	minTemperature = 0.0
	maxTemperature = 2.0
)

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// AdapterService orchestrates requests to the backing agent.
type AdapterService struct {
	runner AgentRunner
}

// NewAdapterService creates a new adapter service (DI constructor).
func NewAdapterService(runner AgentRunner) *AdapterService {
	return &AdapterService{
		runner: runner,
	}
}

// Run validates the request and starts one upstream agent run.
// Validation failures are returned before any upstream call.
func (s *AdapterService) Run(ctx context.Context, req *ChatRequest) (<-chan AgentEvent, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx)
	logger.Info("starting agent run",
		observability.Int("messages", len(req.Messages)),
		observability.Bool("stream", req.Stream),
	)

	events, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent run setup: %w", err)
	}
	return events, nil
}

// validate checks the request against the supported parameter subset.
func validate(req *ChatRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrValidation)
	}

	if req.Model == "" {
		return fmt.Errorf("%w: model is required", ErrValidation)
	}

	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages cannot be empty", ErrValidation)
	}

	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("%w: messages[%d] has unsupported role %q", ErrValidation, i, msg.Role)
		}
	}

	if _, ok := LastUserMessage(req.Messages); !ok {
		return fmt.Errorf("%w: no user message found", ErrValidation)
	}

	if req.Temperature != nil && (*req.Temperature < minTemperature || *req.Temperature > maxTemperature) {
		return fmt.Errorf("%w: temperature must be between %.1f and %.1f", ErrValidation, minTemperature, maxTemperature)
	}

	if req.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens cannot be negative", ErrValidation)
	}

	return nil
}
