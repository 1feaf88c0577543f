package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
)

// Client provides typed access to the deployments dashboard API for
// interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e APIError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if msg == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, msg)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := extractError(resp.Body)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) APIError {
	var payload struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return APIError{}
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return APIError{Message: strings.TrimSpace(string(data))}
	}
	return APIError{Message: strings.TrimSpace(payload.Error), Details: strings.TrimSpace(payload.Details)}
}

// PageQuery selects one page of a listing. Zero values use server defaults.
type PageQuery struct {
	Page  int
	Limit int
}

func (p PageQuery) apply(q url.Values) {
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
}

func set(q url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		q.Set(key, value)
	}
}

// ListServices returns every service.
func (c *Client) ListServices(ctx context.Context, token string) ([]domain.Service, error) {
	var services []domain.Service
	if err := c.do(ctx, http.MethodGet, "/services", nil, token, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// GetService returns one service by name.
func (c *Client) GetService(ctx context.Context, token, name string) (domain.Service, error) {
	var svc domain.Service
	err := c.do(ctx, http.MethodGet, "/services", url.Values{"name": {name}}, token, &svc)
	return svc, err
}

// Dashboard returns the per-service summary rows.
func (c *Client) Dashboard(ctx context.Context, token string) ([]domain.ServiceSummary, error) {
	var rows []domain.ServiceSummary
	if err := c.do(ctx, http.MethodGet, "/services/dashboard", nil, token, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListInstances returns a page of instances, optionally of one service.
func (c *Client) ListInstances(ctx context.Context, token, service string, page PageQuery) (presenter.Page[domain.Instance], error) {
	q := url.Values{}
	set(q, "service", service)
	page.apply(q)
	var out presenter.Page[domain.Instance]
	err := c.do(ctx, http.MethodGet, "/instances", q, token, &out)
	return out, err
}

// ListEvents returns a page of an instance's events, newest first.
func (c *Client) ListEvents(ctx context.Context, token, instanceID string, page PageQuery) (presenter.Page[domain.Event], error) {
	q := url.Values{"instanceId": {instanceID}}
	page.apply(q)
	var out presenter.Page[domain.Event]
	err := c.do(ctx, http.MethodGet, "/events", q, token, &out)
	return out, err
}

// FindStart returns the deployment_started event of the episode of eventID.
func (c *Client) FindStart(ctx context.Context, token, eventID string) (domain.Event, error) {
	var ev domain.Event
	err := c.do(ctx, http.MethodGet, "/events/find-start", url.Values{"completionEventId": {eventID}}, token, &ev)
	return ev, err
}

// DeploymentQuery filters ListDeployments. InstanceID or Service is required.
type DeploymentQuery struct {
	InstanceID  string
	Service     string
	Environment string
	BuildURL    string
	PageQuery
}

// ListDeployments returns a page of reconstructed deployments.
func (c *Client) ListDeployments(ctx context.Context, token string, query DeploymentQuery) (presenter.Page[domain.Deployment], error) {
	q := url.Values{}
	set(q, "instanceId", query.InstanceID)
	set(q, "service", query.Service)
	set(q, "environment", query.Environment)
	set(q, "buildkite_build_url", query.BuildURL)
	query.PageQuery.apply(q)
	var out presenter.Page[domain.Deployment]
	err := c.do(ctx, http.MethodGet, "/deployments", q, token, &out)
	return out, err
}

// GetDeployment returns one deployment with its environment.
func (c *Client) GetDeployment(ctx context.Context, token, id string) (domain.Deployment, error) {
	var d domain.Deployment
	err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), nil, token, &d)
	return d, err
}

// ServiceStats returns the statistics of one service. days <= 0 uses the
// server window.
func (c *Client) ServiceStats(ctx context.Context, token, service string, days int) (domain.ServiceStats, error) {
	q := url.Values{"service": {service}}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var out domain.ServiceStats
	err := c.do(ctx, http.MethodGet, "/stats", q, token, &out)
	return out, err
}

// DeploymentCounts returns succeeded and failed counts in the window.
func (c *Client) DeploymentCounts(ctx context.Context, token, service string, days int) (domain.DeploymentCounts, error) {
	q := url.Values{"service": {service}}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var out domain.DeploymentCounts
	err := c.do(ctx, http.MethodGet, "/stats/deployments", q, token, &out)
	return out, err
}

// Environments returns the distinct environment names.
func (c *Client) Environments(ctx context.Context, token string) ([]string, error) {
	var envs []string
	if err := c.do(ctx, http.MethodGet, "/environments", nil, token, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// ResetCache drops the server's read cache.
func (c *Client) ResetCache(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/admin/cache/reset", nil, token, nil)
}

// Health reports component health. A degraded server returns an APIError
// with status 503.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/healthz", nil, "", &out)
	return out, err
}
