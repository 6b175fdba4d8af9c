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

// PodClient drives the dedicated pod backend. Unlike the prediction API the
// pod wraps job parameters in an "input" envelope and reports results with
// the output URL inline rather than behind a second lookup.
type PodClient struct {
	baseURL  string
	apiToken string
	podID    string
	client   HTTPDoer
}

// NewPodClient builds a pod backend client from configuration.
func NewPodClient(cfg config.ProviderB) *PodClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PodClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		podID:    cfg.PodID,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewPodClientWithDoer builds a pod backend client with an injected HTTP doer.
func NewPodClientWithDoer(baseURL, apiToken, podID string, client HTTPDoer) *PodClient {
	return &PodClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiToken: strings.TrimSpace(apiToken),
		podID:    strings.TrimSpace(podID),
		client:   client,
	}
}

// Kind identifies this backend.
func (c *PodClient) Kind() Kind { return KindPod }

type podInput struct {
	AudioURL   string  `json:"audio_url"`
	ModelURL   string  `json:"model_url"`
	PitchShift float64 `json:"pitch_shift"`
}

type podSubmit struct {
	Input   podInput `json:"input"`
	Webhook string   `json:"webhook,omitempty"`
}

type podState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output *struct {
		OutputURL string `json:"output_url"`
		Message   string `json:"message"`
	} `json:"output"`
	Error string `json:"error"`
}

// Submit enqueues a conversion on the pod and returns its job identifier.
func (c *PodClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if c == nil || c.client == nil || c.baseURL == "" || c.podID == "" {
		return "", services.Wrap(services.ErrSubmission, "provider-pod", "submit", "backend not configured", nil)
	}

	payload := podSubmit{
		Input: podInput{
			AudioURL:   req.SourceURL,
			ModelURL:   req.ModelDownloadURL,
			PitchShift: req.PitchShift,
		},
		Webhook: req.WebhookURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal pod request: %w", err)
	}

	endpoint := c.baseURL + "/v2/" + url.PathEscape(c.podID) + "/run"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build pod request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, "provider-pod", "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", services.Wrap(services.ErrSubmission, "provider-pod", "submit",
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	var state podState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("decode pod response: %w", err)
	}
	if state.ID == "" {
		return "", services.Wrap(services.ErrSubmission, "provider-pod", "submit", "backend returned no job id", nil)
	}
	return state.ID, nil
}

// Poll reads the current state of a pod job.
func (c *PodClient) Poll(ctx context.Context, jobID string) (*Notification, error) {
	if c == nil || c.client == nil || c.baseURL == "" || c.podID == "" {
		return nil, services.Wrap(services.ErrTransient, "provider-pod", "poll", "backend not configured", nil)
	}

	endpoint := c.baseURL + "/v2/" + url.PathEscape(c.podID) + "/status/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build pod poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "provider-pod", "poll", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "provider-pod", "poll", jobID, nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, "provider-pod", "poll",
			fmt.Sprintf("backend returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read pod poll response: %w", err)
	}
	return parsePodNotification(body)
}

// parsePodNotification maps the pod's job document onto the neutral form.
func parsePodNotification(payload []byte) (*Notification, error) {
	var state podState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, services.Wrap(services.ErrValidation, "provider-pod", "parse", "malformed payload", err)
	}
	if state.ID == "" {
		return nil, services.Wrap(services.ErrValidation, "provider-pod", "parse", "payload has no job id", nil)
	}

	n := &Notification{Provider: KindPod, JobID: state.ID, ErrorText: state.Error}
	switch strings.ToUpper(state.Status) {
	case "IN_QUEUE", "IN_PROGRESS":
		n.Outcome = OutcomeProcessing
	case "COMPLETED":
		n.Outcome = OutcomeCompleted
		if state.Output != nil {
			n.OutputURL = strings.TrimSpace(state.Output.OutputURL)
			if n.ErrorText == "" {
				n.ErrorText = state.Output.Message
			}
		}
		if n.OutputURL == "" {
			// The pod reports conversion failures as COMPLETED jobs whose
			// output carries a message instead of a URL.
			n.Outcome = OutcomeFailed
			if strings.TrimSpace(n.ErrorText) == "" {
				n.ErrorText = "backend reported success without an output"
			}
		}
	case "FAILED", "CANCELLED", "TIMED_OUT":
		n.Outcome = OutcomeFailed
		if n.ErrorText == "" {
			n.ErrorText = "conversion failed"
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "provider-pod", "parse",
			fmt.Sprintf("unknown status %q", state.Status), nil)
	}
	if n.Outcome == OutcomeFailed && noSpeechText(n.ErrorText) {
		n.Outcome = OutcomeNoSpeech
	}
	return n, nil
}
