package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"resonate/internal/logging"
	"resonate/internal/services"
	"resonate/internal/tasks"
)

// HTTPDoer describes the HTTP client used for outbound notifications.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier posts a task's public view to the callback URL its caller
// registered. Delivery is best effort: failures surface as
// services.ErrDelivery and never affect the task's own state.
type WebhookNotifier struct {
	client HTTPDoer
	logger *slog.Logger
}

// NewWebhookNotifier builds an outbound notifier with the given delivery
// timeout.
func NewWebhookNotifier(timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logging.WithComponent(logger, "notify"),
	}
}

// NewWebhookNotifierWithDoer builds an outbound notifier with an injected
// HTTP doer.
func NewWebhookNotifierWithDoer(client HTTPDoer, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WebhookNotifier{client: client, logger: logging.WithComponent(logger, "notify")}
}

// Notify delivers the task's public view to its registered callback URL.
func (w *WebhookNotifier) Notify(ctx context.Context, task *tasks.Task) error {
	body, err := json.Marshal(task.Public())
	if err != nil {
		return services.Wrap(services.ErrDelivery, "notify", "deliver", "encode notification", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrDelivery, "notify", "deliver", "build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrDelivery, "notify", "deliver",
			"caller webhook "+task.WebhookURL+" unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrDelivery, "notify", "deliver",
			fmt.Sprintf("caller webhook %s returned %d", task.WebhookURL, resp.StatusCode), nil)
	}

	w.logger.Info("caller notified",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStatus, string(task.Status)))
	return nil
}
