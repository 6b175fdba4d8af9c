package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resonate/internal/core"
	"resonate/internal/tasks"
)

// apiClient is a thin HTTP client for the daemon API.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type daemonStatus struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	TaskDBPath   string              `json:"task_db_path"`
	LockFilePath string              `json:"lock_file_path"`
	Health       tasks.HealthSummary `json:"health"`
}

func (c *apiClient) status(ctx context.Context) (*daemonStatus, error) {
	var out daemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) listTasks(ctx context.Context, owner string) ([]tasks.Public, error) {
	path := "/api/tasks"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	var out struct {
		Tasks []tasks.Public `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *apiClient) getTask(ctx context.Context, id string) (*tasks.Public, error) {
	var out tasks.Public
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) createTask(ctx context.Context, req core.CreateRequest) (*tasks.Public, error) {
	var out tasks.Public
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) retryTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/retry", nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
