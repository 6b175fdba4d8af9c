package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resonate/internal/config"
	"resonate/internal/services"
)

// HTTPDoer describes the HTTP client used by the storage service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client transfers conversion artifacts into durable public storage.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewClient builds a storage client from configuration.
func NewClient(cfg config.ServiceEndpoint) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithDoer builds a storage client with an injected HTTP doer.
func NewClientWithDoer(baseURL, apiKey string, client HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

type storeRequest struct {
	SourceURL string `json:"source_url"`
	Filename  string `json:"filename"`
	UserID    string `json:"user_id"`
	Public    bool   `json:"public"`
}

type storeResponse struct {
	URL string `json:"url"`
}

// Store transfers the artifact at sourceURL into durable storage under the
// given filename and owner, returning the resulting public URL.
func (c *Client) Store(ctx context.Context, sourceURL, filename, ownerID string) (string, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return "", services.Wrap(services.ErrTransient, "storage", "store", "service not configured", nil)
	}

	body, err := json.Marshal(storeRequest{
		SourceURL: sourceURL,
		Filename:  filename,
		UserID:    ownerID,
		Public:    true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "store", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		marker := services.ErrTransient
		if resp.StatusCode < http.StatusInternalServerError {
			marker = services.ErrValidation
		}
		return "", services.Wrap(marker, "storage", "store",
			fmt.Sprintf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var decoded storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	if strings.TrimSpace(decoded.URL) == "" {
		return "", fmt.Errorf("storage returned an empty url")
	}
	return decoded.URL, nil
}
