package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loadforge/loadforge/internal/metrics"
	"github.com/loadforge/loadforge/internal/testplan"
)

// workerClient talks the worker HTTP protocol over one worker's base URL.
type workerClient struct {
	baseURL string
	http    *http.Client
}

func newWorkerClient(baseURL string) *workerClient {
	return &workerClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

type errorMessage struct {
	Message string `json:"message"`
}

func (c *workerClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var em errorMessage
		_ = json.Unmarshal(respBody, &em)
		if em.Message == "" {
			em.Message = string(respBody)
		}
		return fmt.Errorf("worker %s: %s (status %d)", c.baseURL, em.Message, resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *workerClient) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

type workerStatusResponse struct {
	Connected    bool    `json:"connected"`
	Running      bool    `json:"running"`
	VirtualUsers int     `json:"virtualUsers"`
	RPS          float64 `json:"rps"`
	ResponseTime float64 `json:"responseTime"`
	ErrorRate    float64 `json:"errorRate"`
	ActiveRunner string  `json:"activeRunner"`
}

func (c *workerClient) status(ctx context.Context) (workerStatusResponse, error) {
	var out workerStatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *workerClient) prepare(ctx context.Context, cfg testplan.TestConfiguration) error {
	return c.do(ctx, http.MethodPost, "/prepare", cfg, nil)
}

type startRequest struct {
	StartTime int64 `json:"startTime,omitempty"`
}

func (c *workerClient) start(ctx context.Context, at time.Time) error {
	var req startRequest
	if !at.IsZero() {
		req.StartTime = at.UnixMilli()
	}
	return c.do(ctx, http.MethodPost, "/start", req, nil)
}

type resultsResponse struct {
	Results []testplan.TestResult `json:"results"`
	Summary metrics.Summary       `json:"summary"`
}

func (c *workerClient) results(ctx context.Context) (resultsResponse, error) {
	var out resultsResponse
	err := c.do(ctx, http.MethodGet, "/results", nil, &out)
	return out, err
}

func (c *workerClient) stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, nil)
}
