// Package flowclient is the typed HTTP client for the Pinnacle backend: saved
// flows, ordinary flow execution, FlowDir audit records and the remote
// directory-creation call.
package flowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// DirCreateEndpoint names the breaker guarding the directory-creation call.
const DirCreateEndpoint = "dir-create"

// Client talks to the backend API.
type Client struct {
	base    *url.URL
	http    *http.Client
	retry   RetryPolicy
	breaker *Breaker
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy sets the retry policy used for idempotent requests.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithBreaker sets the breaker configuration of the directory-creation call.
func WithBreaker(cfg BreakerConfig) Option {
	return func(c *Client) { c.breaker = NewBreaker(DirCreateEndpoint, cfg) }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid backend url %q", baseURL).WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "backend url %q must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		retry:   DefaultRetryPolicy(),
		breaker: NewBreaker(DirCreateEndpoint, DefaultBreakerConfig()),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Breaker returns the breaker guarding the directory-creation call.
func (c *Client) Breaker() *Breaker { return c.breaker }

// --- Flows ---

// ListFlows returns saved flows, most recently updated first.
func (c *Client) ListFlows(ctx context.Context) ([]schema.FlowSummary, error) {
	var out []schema.FlowSummary
	err := c.withRetry(ctx, "list flows", func() error {
		return c.do(ctx, http.MethodGet, "/api/flows", nil, &out)
	})
	return out, err
}

// GetFlow loads one saved flow.
func (c *Client) GetFlow(ctx context.Context, id string) (*schema.SavedFlow, error) {
	var out schema.SavedFlow
	err := c.withRetry(ctx, "get flow", func() error {
		return c.do(ctx, http.MethodGet, "/api/flows/"+url.PathEscape(id), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveFlow creates or overwrites a named flow.
func (c *Client) SaveFlow(ctx context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error) {
	var out schema.SaveFlowResponse
	if err := c.do(ctx, http.MethodPost, "/api/flows", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Autosave stores a background snapshot of the flow.
func (c *Client) Autosave(ctx context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error) {
	req.IsAutoSave = true
	var out schema.SaveFlowResponse
	if err := c.do(ctx, http.MethodPost, "/api/flows/autosave", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFlow deletes a saved flow.
func (c *Client) DeleteFlow(ctx context.Context, id string) error {
	return c.withRetry(ctx, "delete flow", func() error {
		return c.do(ctx, http.MethodDelete, "/api/flows/"+url.PathEscape(id), nil, nil)
	})
}

// ExecuteFlow runs an ordinary multi-node execution. A success:false body is
// returned as a REMOTE_EXECUTION_ERROR.
func (c *Client) ExecuteFlow(ctx context.Context, req schema.ExecuteFlowRequest) (*schema.ExecuteFlowResponse, error) {
	var out schema.ExecuteFlowResponse
	if err := c.do(ctx, http.MethodPost, "/api/flows/execute", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, schema.NewError(schema.ErrCodeRemoteExecution, firstNonEmpty(out.Error, out.Message, "flow execution failed"))
	}
	return &out, nil
}

// --- Workspace settings ---

// GetWorkspaceSettings returns the stored workspace settings, or nil when none exist.
func (c *Client) GetWorkspaceSettings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.withRetry(ctx, "get workspace settings", func() error {
		return c.do(ctx, http.MethodGet, "/api/workspace-settings", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	return trimmed, nil
}

// PutWorkspaceSettings stores the workspace settings.
func (c *Client) PutWorkspaceSettings(ctx context.Context, settings json.RawMessage) error {
	return c.withRetry(ctx, "put workspace settings", func() error {
		return c.do(ctx, http.MethodPut, "/api/workspace-settings", settings, nil)
	})
}

// --- FlowDir ---

// CreateAudit creates an audit record and returns its id.
func (c *Client) CreateAudit(ctx context.Context, req schema.AuditCreateRequest) (string, error) {
	var out schema.AuditCreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/flowdir-executions", req, &out); err != nil {
		return "", schema.NewError(schema.ErrCodeAuditRecord, "create audit record failed").WithCause(err)
	}
	if out.ID == "" {
		return "", schema.NewError(schema.ErrCodeAuditRecord, "audit record response has no id")
	}
	return out.ID, nil
}

// UpdateAudit stores the outcome of an execution on its audit record.
func (c *Client) UpdateAudit(ctx context.Context, id string, req schema.AuditUpdateRequest) error {
	err := c.withRetry(ctx, "update audit", func() error {
		return c.do(ctx, http.MethodPut, "/api/flowdir-executions/"+url.PathEscape(id), req, nil)
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAuditRecord, "update audit record %s failed", id).WithCause(err)
	}
	return nil
}

// FlowdirResult is a decoded directory-creation response plus its raw body.
type FlowdirResult struct {
	schema.FlowdirResponse
	Raw json.RawMessage
}

// ExecuteFlowdir calls the remote directory-creation service. It is never
// retried. Non-2xx responses and success:false bodies are REMOTE_EXECUTION_ERRORs;
// context errors are returned unwrapped so callers can tell a timeout apart.
func (c *Client) ExecuteFlowdir(ctx context.Context, p schema.FlowdirParameters) (*FlowdirResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/dir-create/execute-flowdir", p, &raw)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if schema.ErrorCode(err) == "" {
			err = schema.NewError(schema.ErrCodeRemoteExecution, err.Error()).WithCause(err)
		}
		return nil, err
	}

	res := &FlowdirResult{Raw: raw}
	if err := json.Unmarshal(raw, &res.FlowdirResponse); err != nil {
		c.breaker.RecordFailure()
		return nil, schema.NewError(schema.ErrCodeRemoteExecution, "malformed directory-creation response").WithCause(err)
	}
	if !res.Success {
		// The service answered; only transport-level failures trip the breaker.
		c.breaker.RecordSuccess()
		return res, schema.NewError(schema.ErrCodeRemoteExecution, firstNonEmpty(res.Error, "directory creation failed"))
	}
	c.breaker.RecordSuccess()
	return res, nil
}

// --- transport ---

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryableError(err) || attempt == attempts-1 {
			return err
		}
		delay := ComputeBackoff(c.retry, attempt)
		c.logger.DebugContext(ctx, "retrying request", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return err
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.DebugContext(ctx, "backend request", "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func statusError(method, path string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := schema.ErrCodeRemoteExecution
	switch status {
	case http.StatusNotFound:
		code = schema.ErrCodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = schema.ErrCodeValidation
	case http.StatusConflict:
		code = schema.ErrCodeConflict
	}
	return schema.NewErrorf(code, "%s %s: %s", method, path, msg).
		WithDetails(map[string]any{"status": status})
}

// IsTimeout reports whether err is a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
