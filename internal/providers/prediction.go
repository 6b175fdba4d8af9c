package providers

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

	"resonate/internal/config"
	"resonate/internal/services"
)

// HTTPDoer describes the HTTP client used by the backend clients.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Conversion parameters sent with every prediction. These match the tuning
// the hosted model was validated with and are not caller-adjustable.
const (
	predictionProtect     = 0.5
	predictionIndexRate   = 0.5
	predictionRMSMixRate  = 0.3
	predictionFilterWidth = 3
	predictionFormat      = "wav"
)

// PredictionClient drives the hosted prediction API backend.
type PredictionClient struct {
	baseURL      string
	apiToken     string
	modelVersion string
	client       HTTPDoer
}

// NewPredictionClient builds a prediction backend client from configuration.
func NewPredictionClient(cfg config.ProviderA) *PredictionClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PredictionClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:     cfg.APIToken,
		modelVersion: cfg.ModelVersion,
		client:       &http.Client{Timeout: timeout},
	}
}

// NewPredictionClientWithDoer builds a prediction backend client with an
// injected HTTP doer.
func NewPredictionClientWithDoer(baseURL, apiToken, modelVersion string, client HTTPDoer) *PredictionClient {
	return &PredictionClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiToken:     strings.TrimSpace(apiToken),
		modelVersion: strings.TrimSpace(modelVersion),
		client:       client,
	}
}

// Kind identifies this backend.
func (c *PredictionClient) Kind() Kind { return KindPrediction }

type predictionInput struct {
	SongInput        string  `json:"song_input"`
	ModelDownloadURL string  `json:"custom_rvc_model_download_url"`
	PitchChangeAll   float64 `json:"pitch_change_all"`
	Protect          float64 `json:"protect"`
	IndexRate        float64 `json:"index_rate"`
	RMSMixRate       float64 `json:"rms_mix_rate"`
	FilterRadius     int     `json:"filter_radius"`
	OutputFormat     string  `json:"output_format"`
}

type predictionSubmit struct {
	Version             string          `json:"version"`
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

type predictionState struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Submit starts a prediction and returns the backend's job identifier.
func (c *PredictionClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return "", services.Wrap(services.ErrSubmission, "provider-prediction", "submit", "backend not configured", nil)
	}

	payload := predictionSubmit{
		Version: c.modelVersion,
		Input: predictionInput{
			SongInput:        req.SourceURL,
			ModelDownloadURL: req.ModelDownloadURL,
			PitchChangeAll:   req.PitchShift,
			Protect:          predictionProtect,
			IndexRate:        predictionIndexRate,
			RMSMixRate:       predictionRMSMixRate,
			FilterRadius:     predictionFilterWidth,
			OutputFormat:     predictionFormat,
		},
	}
	if req.WebhookURL != "" {
		payload.Webhook = req.WebhookURL
		payload.WebhookEventsFilter = []string{"completed"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.apiToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "provider-prediction", "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", services.Wrap(services.ErrSubmission, "provider-prediction", "submit",
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var state predictionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("decode prediction response: %w", err)
	}
	if state.ID == "" {
		return "", services.Wrap(services.ErrSubmission, "provider-prediction", "submit", "backend returned no job id", nil)
	}
	return state.ID, nil
}

// Poll reads the current state of a prediction.
func (c *PredictionClient) Poll(ctx context.Context, jobID string) (*Notification, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return nil, services.Wrap(services.ErrTransient, "provider-prediction", "poll", "backend not configured", nil)
	}

	endpoint := c.baseURL + "/v1/predictions/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "provider-prediction", "poll", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "provider-prediction", "poll", jobID, nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, "provider-prediction", "poll",
			fmt.Sprintf("backend returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read poll response: %w", err)
	}
	return parsePredictionNotification(body)
}

// parsePredictionNotification maps the prediction API's job document onto the
// neutral form. The backend reports "init" and "starting" before work begins;
// both read as processing so callers never regress a task.
func parsePredictionNotification(payload []byte) (*Notification, error) {
	var state predictionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, services.Wrap(services.ErrValidation, "provider-prediction", "parse", "malformed payload", err)
	}
	if state.ID == "" {
		return nil, services.Wrap(services.ErrValidation, "provider-prediction", "parse", "payload has no job id", nil)
	}

	n := &Notification{Provider: KindPrediction, JobID: state.ID, ErrorText: state.Error}
	switch strings.ToLower(state.Status) {
	case "init", "starting", "processing":
		n.Outcome = OutcomeProcessing
	case "succeeded", "completed":
		n.Outcome = OutcomeCompleted
		n.OutputURL = predictionOutputURL(state.Output)
		if n.OutputURL == "" {
			n.Outcome = OutcomeFailed
			n.ErrorText = "backend reported success without an output"
		}
	case "failed", "error", "canceled":
		n.Outcome = OutcomeFailed
		if n.ErrorText == "" {
			n.ErrorText = "conversion failed"
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "provider-prediction", "parse",
			fmt.Sprintf("unknown status %q", state.Status), nil)
	}
	if n.Outcome == OutcomeFailed && noSpeechText(n.ErrorText) {
		n.Outcome = OutcomeNoSpeech
	}
	return n, nil
}

// predictionOutputURL handles the two shapes the backend uses for output:
// a bare URL string or a list of URLs where the first entry is the result.
func predictionOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.TrimSpace(many[0])
	}
	return ""
}
