// Package rest implements jobs.Gateway and jobs.ConfigStore against the crawl
// backend's JSON API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
)

const defaultTimeout = 15 * time.Second

// Config controls how the client reaches the backend.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Unwrap maps 404 responses onto jobs.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return jobs.ErrNotFound
	}
	return nil
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		token:      cfg.Token,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username    string   `json:"username"`
	Token       string   `json:"token"`
	Authorities []string `json:"authorities"`
}

// Login exchanges credentials for a bearer token used on every later call.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, loginRequest{Username: username, Password: password}, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return errors.New("login: backend returned an empty token")
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	c.logger.Info("authenticated against backend", zap.String("username", resp.Username))
	return nil
}

type createJobBody struct {
	ConfigCode  string       `json:"crawlerConfigCode"`
	WebsiteCode string       `json:"crawlerWebsiteCode,omitempty"`
	JobType     jobs.JobType `json:"jobType"`
	TestRun     bool         `json:"testRun"`
}

// CreateJob issues the job-creation call matching the request's job type.
func (c *Client) CreateJob(ctx context.Context, req jobs.CreateRequest) (jobs.Job, error) {
	var (
		job   jobs.Job
		err   error
		query url.Values
	)
	if req.Parameters != "" {
		query = url.Values{"parameters": {req.Parameters}}
	}
	switch req.Type {
	case jobs.JobTypeCrawl:
		body := createJobBody{
			ConfigCode:  req.ConfigCode,
			WebsiteCode: req.WebsiteCode,
			JobType:     jobs.JobTypeCrawl,
			TestRun:     req.TestRun,
		}
		err = c.do(ctx, http.MethodPost, "/api/jobs", nil, body, &job)
	case jobs.JobTypeProductMapping:
		if req.ConfigCode == "" {
			return jobs.Job{}, errors.New("product mapping requires a config or category code")
		}
		err = c.do(ctx, http.MethodPost, "/api/jobs/product-mapping/"+url.PathEscape(req.ConfigCode), query, nil, &job)
	case jobs.JobTypeProductCleanup:
		err = c.do(ctx, http.MethodPost, "/api/jobs/product-cleanup", query, nil, &job)
	default:
		return jobs.Job{}, fmt.Errorf("unsupported job type %q", req.Type)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("create job: %w", err)
	}
	c.logger.Debug("job created", zap.Int64("job_id", job.ID), zap.String("job_type", string(job.Type)))
	return job, nil
}

// GetJob fetches the current backend record for a job.
func (c *Client) GetJob(ctx context.Context, jobID int64) (jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+strconv.FormatInt(jobID, 10), nil, nil, &job); err != nil {
		return jobs.Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}

// JobErrors fetches the error rows for a job.
func (c *Client) JobErrors(ctx context.Context, jobID int64) ([]jobs.JobError, error) {
	var errs []jobs.JobError
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+strconv.FormatInt(jobID, 10)+"/errors", nil, nil, &errs); err != nil {
		return nil, fmt.Errorf("get job %d errors: %w", jobID, err)
	}
	return errs, nil
}

// GetConfig loads one crawler configuration.
func (c *Client) GetConfig(ctx context.Context, code string) (jobs.Configuration, error) {
	var cfg jobs.Configuration
	if err := c.do(ctx, http.MethodGet, "/crawler-config", url.Values{"code": {code}}, nil, &cfg); err != nil {
		return jobs.Configuration{}, fmt.Errorf("get config %q: %w", code, err)
	}
	return cfg, nil
}

// UpdateConfig replaces a crawler configuration with the provided record.
func (c *Client) UpdateConfig(ctx context.Context, code string, cfg jobs.Configuration) (jobs.Configuration, error) {
	var updated jobs.Configuration
	if err := c.do(ctx, http.MethodPut, "/crawler-config", url.Values{"code": {code}}, cfg, &updated); err != nil {
		return jobs.Configuration{}, fmt.Errorf("update config %q: %w", code, err)
	}
	if updated.Code == "" {
		// Some backend versions answer PUT with an empty body.
		updated = cfg
	}
	return updated, nil
}

// Response size caps. Error bodies are only kept for diagnostics.
const (
	maxResponseBytes  = 8 << 20
	maxErrorBodyBytes = 4 << 10
)

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return fmt.Errorf("%s %s: response exceeds %d bytes", method, path, maxResponseBytes)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
