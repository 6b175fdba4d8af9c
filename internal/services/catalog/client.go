package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"resonate/internal/config"
	"resonate/internal/services"
)

// HTTPDoer describes the HTTP client used by the catalog service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// VoiceModel is the catalog's description of a target voice.
type VoiceModel struct {
	VoiceID     string  `json:"voice_id"`
	DisplayName string  `json:"display_name"`
	DownloadURL string  `json:"model_url"`
	BasePitch   float64 `json:"base_pitch"`
}

// Client resolves target voice identifiers through the external model catalog.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewClient builds a catalog client from configuration.
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

// NewClientWithDoer builds a catalog client with an injected HTTP doer.
func NewClientWithDoer(baseURL, apiKey string, client HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

// Resolve looks up a voice model by identifier. An unknown voice maps to
// services.ErrNotFound.
func (c *Client) Resolve(ctx context.Context, voiceID string) (*VoiceModel, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return nil, services.Wrap(services.ErrTransient, "catalog", "resolve", "service not configured", nil)
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "resolve", "voice id is required", nil)
	}

	endpoint := c.baseURL + "/v1/voices/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build resolve request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "catalog", "resolve", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "catalog", "resolve", voiceID, nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, services.Wrap(services.ErrTransient, "catalog", "resolve",
			fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	}

	var model VoiceModel
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return nil, fmt.Errorf("decode voice model: %w", err)
	}
	if strings.TrimSpace(model.DownloadURL) == "" {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "resolve", voiceID+" has no model artifact", nil)
	}
	if model.VoiceID == "" {
		model.VoiceID = voiceID
	}
	if strings.TrimSpace(model.DisplayName) == "" {
		model.DisplayName = displayNameFromID(voiceID)
	}
	return &model, nil
}

var titleCaser = cases.Title(language.English)

// displayNameFromID derives a presentable name when the catalog record
// carries none, e.g. "neon_singer-v2" becomes "Neon Singer V2".
func displayNameFromID(voiceID string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(voiceID)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return voiceID
	}
	return titleCaser.String(cleaned)
}
