// Package core ties the task store, dispatch pipeline, and reconciler into
// the operations the API surface exposes.
package core

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"resonate/internal/dispatch"
	"resonate/internal/logging"
	"resonate/internal/providers"
	"resonate/internal/reconcile"
	"resonate/internal/services"
	"resonate/internal/tasks"
)

// processTimeout bounds one background dispatch run. The pipeline is a
// handful of HTTP calls and SQLite writes, so a run that exceeds this is
// stuck and the sweeper takes over.
const processTimeout = 5 * time.Minute

// Service exposes the task lifecycle operations.
type Service struct {
	store      *tasks.Store
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewService builds the orchestration facade.
func NewService(store *tasks.Store, dispatcher *dispatch.Dispatcher, reconciler *reconcile.Reconciler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		reconciler: reconciler,
		logger:     logging.WithComponent(logger, "core"),
	}
}

// CreateRequest carries the caller's conversion order.
type CreateRequest struct {
	OwnerID       string   `json:"owner_id"`
	SourceURL     string   `json:"source_url"`
	TargetVoiceID string   `json:"target_voice_id"`
	PitchShift    *float64 `json:"pitch_shift,omitempty"`
	WebhookURL    string   `json:"webhook_url,omitempty"`
}

func (r *CreateRequest) validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return services.Wrap(services.ErrValidation, "core", "create", "owner_id is required", nil)
	}
	if err := validateHTTPURL(r.SourceURL); err != nil {
		return services.Wrap(services.ErrValidation, "core", "create", "source_url: "+err.Error(), nil)
	}
	if strings.TrimSpace(r.TargetVoiceID) == "" {
		return services.Wrap(services.ErrValidation, "core", "create", "target_voice_id is required", nil)
	}
	if r.PitchShift != nil && (*r.PitchShift < -12 || *r.PitchShift > 12) {
		return services.Wrap(services.ErrValidation, "core", "create", "pitch_shift must be within one octave", nil)
	}
	if r.WebhookURL != "" {
		if err := validateHTTPURL(r.WebhookURL); err != nil {
			return services.Wrap(services.ErrValidation, "core", "create", "webhook_url: "+err.Error(), nil)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return services.Wrap(services.ErrValidation, "core", "validate-url", "must be an http or https url", nil)
	}
	if parsed.Host == "" {
		return services.Wrap(services.ErrValidation, "core", "validate-url", "missing host", nil)
	}
	return nil
}

// CreateTask validates and persists a new conversion task, then starts its
// dispatch pipeline in the background. The returned task is at draft; the
// pipeline advances it from there.
func (s *Service) CreateTask(ctx context.Context, req CreateRequest) (*tasks.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	task, err := s.store.Create(ctx, tasks.NewTaskParams{
		OwnerID:       strings.TrimSpace(req.OwnerID),
		SourceURL:     strings.TrimSpace(req.SourceURL),
		TargetVoiceID: strings.TrimSpace(req.TargetVoiceID),
		PitchShift:    req.PitchShift,
		WebhookURL:    strings.TrimSpace(req.WebhookURL),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldOwnerID, task.OwnerID),
		logging.String("voice_id", task.TargetVoiceID))

	s.processAsync(task)
	return task, nil
}

// GetTask returns one task, or services.ErrNotFound.
func (s *Service) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "core", "get", id, nil)
	}
	return task, nil
}

// ListTasks returns tasks for one owner, or all tasks when ownerID is empty.
func (s *Service) ListTasks(ctx context.Context, ownerID string) ([]*tasks.Task, error) {
	if strings.TrimSpace(ownerID) != "" {
		return s.store.ListByOwner(ctx, ownerID)
	}
	return s.store.List(ctx)
}

// RetryTask resets a failed task and runs its pipeline again. It reports
// whether the task was eligible; completed and in-flight tasks are not.
func (s *Service) RetryTask(ctx context.Context, id string) (bool, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return false, err
	}

	retried, err := s.store.Retry(ctx, task.ID)
	if err != nil || !retried {
		return false, err
	}

	task, err = s.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Info("task queued for retry", logging.String(logging.FieldTaskID, task.ID))
	s.processAsync(task)
	return true, nil
}

// HandleWebhook folds an inbound provider callback into the named task.
// Unknown providers and malformed payloads are rejected; updates for settled
// tasks are acknowledged without effect so provider retries stay harmless.
func (s *Service) HandleWebhook(ctx context.Context, provider, taskID string, payload []byte) error {
	kind, err := providers.ParseKind(provider)
	if err != nil {
		return err
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	n, err := providers.ParseNotification(kind, payload)
	if err != nil {
		return err
	}

	s.logger.Info("webhook received",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldProvider, provider),
		logging.String(logging.FieldJobID, n.JobID),
		logging.String("outcome", string(n.Outcome)))

	return s.reconciler.Apply(ctx, task, n)
}

// Health summarizes queue counts for the status endpoint.
func (s *Service) Health(ctx context.Context) (tasks.HealthSummary, error) {
	return s.store.Health(ctx)
}

// Stats returns per-status task counts.
func (s *Service) Stats(ctx context.Context) (map[tasks.Status]int, error) {
	return s.store.Stats(ctx)
}

// processAsync runs the dispatch pipeline for one task in the background.
// The run gets its own context so an API request finishing early cannot
// cancel work mid-flight; failures are terminal task state or sweeper
// territory, never the caller's error.
func (s *Service) processAsync(task *tasks.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		ctx = services.WithTaskID(ctx, task.ID)

		if err := s.dispatcher.Dispatch(ctx, task); err != nil {
			s.logger.Warn("dispatch pipeline did not finish",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err))
		}
	}()
}

// Wait blocks until all background pipeline runs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
