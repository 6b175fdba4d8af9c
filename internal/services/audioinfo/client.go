package audioinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resonate/internal/config"
	"resonate/internal/services"
)

// HTTPDoer describes the HTTP client used by the analysis service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Analysis summarizes a source recording: its duration and the statistics
// of its fundamental pitch. A recording with no voiced frames reports all
// pitch fields as zero.
type Analysis struct {
	DurationSeconds float64 `json:"duration_seconds"`
	PitchMean       float64 `json:"pitch_mean"`
	PitchMin        float64 `json:"pitch_min"`
	PitchMax        float64 `json:"pitch_max"`
	PitchStd        float64 `json:"pitch_std"`
}

// HasSpeech reports whether the analysis found any voiced frames.
func (a Analysis) HasSpeech() bool {
	return a.PitchMean > 0
}

// Client calls the external pitch/duration analysis utility.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewClient builds an analysis client from configuration.
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

// NewClientWithDoer builds an analysis client with an injected HTTP doer.
func NewClientWithDoer(baseURL, apiKey string, client HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

type analyzeRequest struct {
	AudioURL string `json:"audio_url"`
}

// Analyze fetches the recording behind audioURL and returns its duration
// and pitch summary. The signal processing itself is the utility's concern;
// this client treats the result as opaque numbers.
func (c *Client) Analyze(ctx context.Context, audioURL string) (*Analysis, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return nil, services.Wrap(services.ErrTransient, "audioinfo", "analyze", "service not configured", nil)
	}

	body, err := json.Marshal(analyzeRequest{AudioURL: audioURL})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "audioinfo", "analyze", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, "audioinfo", "analyze",
			fmt.Sprintf("analysis returned %d", resp.StatusCode), nil)
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if analysis.DurationSeconds <= 0 {
		return nil, services.Wrap(services.ErrValidation, "audioinfo", "analyze", "source has no measurable duration", nil)
	}
	return &analysis, nil
}
