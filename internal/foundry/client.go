// Package foundry implements the upstream Azure AI Foundry Agent client.
// It speaks the agent thread/run REST protocol and normalizes the upstream
// event stream into domain.AgentEvent values.
package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/tidwall/gjson"

	"github.com/davidbz/foundrygate/internal/domain"
	"github.com/davidbz/foundrygate/internal/observability"
)

const (
	// tokenRefreshMargin refreshes the cached AAD token this long before it
	// expires.
	tokenRefreshMargin = 2 * time.Minute

	// cancelTimeout bounds the best-effort run cancel after a client
	// disconnect.
	cancelTimeout = 5 * time.Second

	maxErrorBodyLen = 512
)

// Client starts agent runs against one configured Foundry agent. It is safe
// for concurrent use; each Run owns its own upstream connection.
type Client struct {
	endpoint   string
	agentID    string
	apiVersion string
	scope      string
	timeout    time.Duration
	credential azcore.TokenCredential
	httpClient *http.Client

	mu    sync.Mutex
	token azcore.AccessToken
}

// NewClient creates a Foundry agent client (DI constructor).
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	credential, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return newClient(cfg, credential, &http.Client{}), nil
}

// newClient wires an arbitrary credential and HTTP client, used by tests.
func newClient(cfg *Config, credential azcore.TokenCredential, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		agentID:    cfg.AgentID,
		apiVersion: cfg.APIVersion,
		scope:      cfg.TokenScope,
		timeout:    time.Duration(cfg.Timeout) * time.Second,
		credential: credential,
		httpClient: httpClient,
	}
}

// Run starts one agent run and returns its event sequence. Setup failures
// (token, thread, message, run creation) are returned directly; once the
// event channel exists, every failure is delivered as a RunFailed event.
func (c *Client) Run(ctx context.Context, req *domain.ChatRequest) (<-chan domain.AgentEvent, error) {
	prompt, ok := domain.LastUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: no user message found", domain.ErrValidation)
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	threadID, err := c.createThread(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("created thread", observability.String("thread_id", threadID))

	if err := c.createMessage(ctx, token, threadID, prompt); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	resp, err := c.startRunStream(ctx, token, threadID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	events := make(chan domain.AgentEvent)
	go c.streamEvents(ctx, resp, threadID, events)

	return events, nil
}

// bearer returns a valid AAD access token, refreshing the cached one when it
// is close to expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Token != "" && time.Until(c.token.ExpiresOn) > tokenRefreshMargin {
		return c.token.Token, nil
	}

	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{c.scope}})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamAuth, err)
	}

	c.token = token
	return token.Token, nil
}

func (c *Client) createThread(ctx context.Context, token string) (string, error) {
	res, err := c.postJSON(ctx, token, c.url("/threads"), nil)
	if err != nil {
		return "", err
	}

	threadID := res.Get("id").String()
	if threadID == "" {
		return "", fmt.Errorf("%w: thread response missing id", domain.ErrRunFailed)
	}

	return threadID, nil
}

func (c *Client) createMessage(ctx context.Context, token, threadID, content string) error {
	body := map[string]any{
		"role":    "user",
		"content": content,
	}

	_, err := c.postJSON(ctx, token, c.url("/threads/"+threadID+"/messages"), body)
	return err
}

// startRunStream creates the run with stream=true and returns the open SSE
// response. Temperature and max_tokens are forwarded as pass-through hints.
func (c *Client) startRunStream(ctx context.Context, token, threadID string, req *domain.ChatRequest) (*http.Response, error) {
	body := map[string]any{
		"assistant_id": c.agentID,
		"stream":       true,
	}

	if instructions := domain.SystemInstructions(req.Messages); instructions != "" {
		body["additional_instructions"] = instructions
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_completion_tokens"] = req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	// The streaming request deliberately has no per-call timeout: it lives
	// as long as the inbound request context.
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.url("/threads/"+threadID+"/runs"),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		_ = resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, data)
	}

	return resp, nil
}

// cancelRun makes a best-effort attempt to cancel an in-flight run after the
// consumer went away, so the upstream connection is not leaked.
func (c *Client) cancelRun(threadID, runID string) {
	if runID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	logger := observability.FromContext(ctx)

	token, err := c.bearer(ctx)
	if err != nil {
		logger.Warn("run cancel skipped", observability.Error(err))
		return
	}

	if _, err := c.postJSON(ctx, token, c.url("/threads/"+threadID+"/runs/"+runID+"/cancel"), nil); err != nil {
		logger.Warn("run cancel failed",
			observability.String("run_id", runID),
			observability.Error(err),
		)
		return
	}

	logger.Info("run cancelled after client disconnect", observability.String("run_id", runID))
}

// postJSON executes one control-plane call under the configured timeout and
// returns the parsed response body.
func (c *Client) postJSON(ctx context.Context, token, url string, body any) (gjson.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, classifyTransport(err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return gjson.Result{}, classifyStatus(resp.StatusCode, data)
	}

	return gjson.ParseBytes(data), nil
}

func (c *Client) url(path string) string {
	return c.endpoint + path + "?api-version=" + c.apiVersion
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrRunFailed, err)
}

func classifyStatus(status int, body []byte) error {
	detail := upstreamErrorMessage(body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamAuth, status)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamTimeout, status, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrRunFailed, status, detail)
	}
}

// upstreamErrorMessage pulls the error message out of an upstream error body,
// falling back to the raw (truncated) payload.
func upstreamErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > maxErrorBodyLen {
		raw = raw[:maxErrorBodyLen]
	}
	return raw
}
