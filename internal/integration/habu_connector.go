package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

// LiveClient implements Client against the Habu REST API
type LiveClient struct {
	config      *Config
	auth        *Authenticator
	rateLimiter RateLimiter
	auditor     AuditLogger
	breaker     *Breaker
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewLiveClient creates a Habu client. rateLimiter and auditor may be nil.
func NewLiveClient(
	config *Config,
	auth *Authenticator,
	rateLimiter RateLimiter,
	auditor AuditLogger,
	breaker *Breaker,
	logger *zap.Logger,
) *LiveClient {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = NewBreaker("habu", config.BreakerThreshold, config.BreakerTimeout, logger)
	}

	return &LiveClient{
		config:      config,
		auth:        auth,
		rateLimiter: rateLimiter,
		auditor:     auditor,
		breaker:     breaker,
		httpClient:  &http.Client{},
		logger:      logger.Named("habu"),
	}
}

// Name identifies the implementation
func (c *LiveClient) Name() string {
	return "live"
}

// ListCleanrooms lists the clean rooms visible to the credentials
func (c *LiveClient) ListCleanrooms(ctx context.Context) ([]Cleanroom, error) {
	var result []Cleanroom
	if err := c.apiCall(ctx, http.MethodGet, "/cleanrooms", c.config.ReadTimeout, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPartners lists partners of one clean room, or of every clean room
// when neither cleanroomID nor a default is configured
func (c *LiveClient) ListPartners(ctx context.Context, cleanroomID string) ([]Partner, error) {
	ids, err := c.cleanroomIDs(ctx, cleanroomID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var partners []Partner
	for _, id := range ids {
		var page []Partner
		endpoint := fmt.Sprintf("/cleanrooms/%s/partners", url.PathEscape(id))
		if err := c.apiCall(ctx, http.MethodGet, endpoint, c.config.ReadTimeout, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if p.CleanroomID == "" {
				p.CleanroomID = id
			}
			partners = append(partners, p)
		}
	}

	return partners, nil
}

// ListTemplates lists cleanroom questions, with the same clean room
// resolution as ListPartners
func (c *LiveClient) ListTemplates(ctx context.Context, cleanroomID string) ([]Template, error) {
	ids, err := c.cleanroomIDs(ctx, cleanroomID)
	if err != nil {
		return nil, err
	}

	var templates []Template
	for _, id := range ids {
		var page []Template
		endpoint := fmt.Sprintf("/cleanrooms/%s/cleanroom-questions", url.PathEscape(id))
		if err := c.apiCall(ctx, http.MethodGet, endpoint, c.config.ReadTimeout, nil, &page); err != nil {
			return nil, err
		}
		for _, t := range page {
			if t.CleanroomID == "" {
				t.CleanroomID = id
			}
			templates = append(templates, t)
		}
	}

	return templates, nil
}

// SubmitQuery starts a query run for a template
func (c *LiveClient) SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*Query, error) {
	if req == nil || req.TemplateID == "" {
		return nil, NewAPIError(http.StatusBadRequest, "template id is required")
	}
	body := *req
	if body.CleanroomID == "" {
		body.CleanroomID = c.config.DefaultCleanroomID
	}

	var result Query
	if err := c.apiCall(ctx, http.MethodPost, "/queries", c.config.SubmitTimeout, &body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetQuery fetches the current state of a query
func (c *LiveClient) GetQuery(ctx context.Context, queryID string) (*Query, error) {
	var result Query
	endpoint := "/queries/" + url.PathEscape(queryID)
	if err := c.apiCall(ctx, http.MethodGet, endpoint, c.config.ReadTimeout, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResults fetches the rows of a completed query
func (c *LiveClient) GetResults(ctx context.Context, queryID string) (*QueryResults, error) {
	var result QueryResults
	endpoint := fmt.Sprintf("/queries/%s/results", url.PathEscape(queryID))
	if err := c.apiCall(ctx, http.MethodGet, endpoint, c.config.ReadTimeout, nil, &result); err != nil {
		return nil, err
	}
	if result.QueryID == "" {
		result.QueryID = queryID
	}
	if result.RecordCount == 0 {
		result.RecordCount = len(result.Rows)
	}
	return &result, nil
}

// ListExports lists export jobs
func (c *LiveClient) ListExports(ctx context.Context) ([]Export, error) {
	var result []Export
	if err := c.apiCall(ctx, http.MethodGet, "/exports", c.config.ReadTimeout, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *LiveClient) cleanroomIDs(ctx context.Context, cleanroomID string) ([]string, error) {
	if cleanroomID != "" {
		return []string{cleanroomID}, nil
	}
	if c.config.DefaultCleanroomID != "" {
		return []string{c.config.DefaultCleanroomID}, nil
	}

	rooms, err := c.ListCleanrooms(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// apiCall makes an authenticated call through the circuit breaker. A 401 is
// retried exactly once after resetting the token.
func (c *LiveClient) apiCall(ctx context.Context, method, endpoint string, timeout time.Duration, body interface{}, result interface{}) error {
	return c.breaker.Do(func() error {
		status, err := c.doRequest(ctx, method, endpoint, timeout, body, result)
		if status == http.StatusUnauthorized {
			c.logger.Info("token rejected, re-authenticating", zap.String("endpoint", endpoint))
			c.auth.Reset()
			_, err = c.doRequest(ctx, method, endpoint, timeout, body, result)
		}
		return err
	})
}

// doRequest performs one HTTP exchange and returns the response status (0
// when no response was received)
func (c *LiveClient) doRequest(ctx context.Context, method, endpoint string, timeout time.Duration, body interface{}, result interface{}) (int, error) {
	startTime := time.Now()
	requestID := uuid.NewString()

	if c.auth == nil {
		return 0, NewConfigurationError("no authenticator configured")
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, string(ServiceTypeHabu)); err != nil {
			return 0, NewNetworkError(CodeTimeout, "rate limit wait aborted", err)
		}
	}

	headers, err := c.auth.AuthHeaders(ctx)
	if err != nil {
		return 0, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		netErr := classifyTransportError(err)
		c.logAudit(ctx, requestID, method, endpoint, 0, time.Since(startTime), false, netErr.Error())
		c.logger.Warn("habu request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return 0, netErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		netErr := classifyTransportError(err)
		c.logAudit(ctx, requestID, method, endpoint, resp.StatusCode, time.Since(startTime), false, netErr.Error())
		return resp.StatusCode, netErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := NewAPIError(resp.StatusCode, errorMessage(data, resp.Status))
		c.logAudit(ctx, requestID, method, endpoint, resp.StatusCode, time.Since(startTime), false, apiErr.Message)
		c.logger.Debug("habu returned error status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return resp.StatusCode, apiErr
	}

	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			c.logAudit(ctx, requestID, method, endpoint, resp.StatusCode, time.Since(startTime), false, err.Error())
			return resp.StatusCode, &Error{
				Kind:       KindAPI,
				Message:    "failed to decode response",
				Code:       CodeInvalidResponse,
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
	}

	c.logAudit(ctx, requestID, method, endpoint, resp.StatusCode, time.Since(startTime), true, "")
	return resp.StatusCode, nil
}

// logAudit records an audit log entry
func (c *LiveClient) logAudit(ctx context.Context, requestID, method, endpoint string, status int, duration time.Duration, success bool, errorMsg string) {
	if c.auditor == nil {
		return
	}

	entry := &AuditEntry{
		Timestamp:  time.Now(),
		Service:    ServiceTypeHabu,
		Operation:  method + " " + endpoint,
		RequestID:  requestID,
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: status,
		Duration:   duration,
		Success:    success,
		Error:      errorMsg,
	}

	// The audit write must not inherit an already expired request deadline.
	if err := c.auditor.Log(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Debug("audit log write failed", zap.Error(err))
	}
}

func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewNetworkError(CodeTimeout, "request to Habu timed out", err)
	}
	return NewNetworkError(CodeConnection, "could not reach Habu", err)
}

// errorMessage pulls a human readable message out of an error body
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Detail} {
			if m != "" {
				return m
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

// Diagnostics is a point-in-time view of the client's guards
type Diagnostics struct {
	Circuit        string           `json:"circuit"`
	RateLimit      *RateLimitStatus `json:"rate_limit,omitempty"`
	LastHour       *AuditStats      `json:"last_hour,omitempty"`
	RecentFailures []FailureSummary `json:"recent_failures,omitempty"`
}

// FailureSummary is one failed exchange from the audit log
type FailureSummary struct {
	Time       time.Time `json:"time"`
	Operation  string    `json:"operation"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
}

// Diagnostics reports breaker state, limiter budget and, when auditing is
// on, the last hour of traffic with up to five recent failures
func (c *LiveClient) Diagnostics(ctx context.Context) *Diagnostics {
	d := &Diagnostics{Circuit: c.breaker.State()}
	if c.rateLimiter != nil {
		d.RateLimit = c.rateLimiter.GetStatus(string(ServiceTypeHabu))
	}
	if c.auditor == nil {
		return d
	}

	stats, err := c.auditor.GetStats(ctx, ServiceTypeHabu, time.Now().Add(-time.Hour))
	if err != nil {
		c.logger.Warn("audit stats unavailable", zap.Error(err))
		return d
	}
	d.LastHour = stats

	failed := false
	entries, err := c.auditor.Query(ctx, &AuditFilter{Success: &failed, Limit: 5})
	if err != nil {
		c.logger.Warn("audit query failed", zap.Error(err))
		return d
	}
	for _, e := range entries {
		d.RecentFailures = append(d.RecentFailures, FailureSummary{
			Time:       e.Timestamp,
			Operation:  e.Operation,
			StatusCode: e.StatusCode,
			Error:      e.Error,
		})
	}
	return d
}
