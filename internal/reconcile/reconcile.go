// Package reconcile applies provider job updates to tasks, whether they
// arrive by webhook or by sweeper polling, and notifies the task's caller
// when a terminal state is reached.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"resonate/internal/logging"
	"resonate/internal/providers"
	"resonate/internal/services"
	"resonate/internal/tasks"
)

// Storer copies a conversion artifact into durable public storage.
type Storer interface {
	Store(ctx context.Context, sourceURL, filename, ownerID string) (string, error)
}

// Notifier delivers a terminal-state notification to the task's caller.
// Delivery is best effort; a returned error is logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, task *tasks.Task) error
}

// Reconciler folds provider notifications into task state.
type Reconciler struct {
	store    *tasks.Store
	storage  Storer
	notifier Notifier
	logger   *slog.Logger
}

// NewReconciler builds a reconciler. notifier may be nil when outbound
// caller notifications are disabled.
func NewReconciler(store *tasks.Store, storage Storer, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		store:    store,
		storage:  storage,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "reconcile"),
	}
}

// Apply folds one provider notification into the task.
//
// Notifications are idempotent: an update for a task that already reached a
// terminal state is acknowledged without effect, so provider retries and
// webhook/poll races never corrupt an outcome. A notification whose job id
// does not match the task's recorded handle is rejected.
func (r *Reconciler) Apply(ctx context.Context, task *tasks.Task, n *providers.Notification) error {
	if task.ProviderJobID != "" && n.JobID != "" && task.ProviderJobID != n.JobID {
		return services.Wrap(services.ErrValidation, "reconcile", "apply",
			"notification job "+n.JobID+" does not match task job "+task.ProviderJobID, nil)
	}

	if task.Status.IsTerminal() {
		r.logger.Debug("notification for settled task ignored",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldStatus, string(task.Status)))
		return nil
	}

	switch n.Outcome {
	case providers.OutcomeProcessing:
		return nil
	case providers.OutcomeCompleted:
		return r.complete(ctx, task, n)
	case providers.OutcomeNoSpeech:
		return r.settle(ctx, task, tasks.StatusNoSpeech, "No speech detected in source audio.")
	case providers.OutcomeFailed:
		reason := strings.TrimSpace(n.ErrorText)
		if reason == "" {
			reason = "conversion failed"
		}
		return r.settle(ctx, task, tasks.StatusError, reason)
	default:
		return services.Wrap(services.ErrValidation, "reconcile", "apply",
			"unknown outcome "+string(n.Outcome), nil)
	}
}

// complete copies the provider's output into durable storage and marks the
// task completed. A storage failure leaves the task at processing so a later
// webhook retry or sweeper poll can finish the job.
func (r *Reconciler) complete(ctx context.Context, task *tasks.Task, n *providers.Notification) error {
	// Only a task the backend is actually running can complete; a premature
	// completion for a pre-dispatch task must not trigger a transfer.
	if task.Status != tasks.StatusProcessing {
		return services.Wrap(services.ErrInvalidTransition, "reconcile", "complete",
			"completion reported for task still "+string(task.Status), nil)
	}

	publicURL, err := r.storage.Store(ctx, n.OutputURL, task.ID+".wav", task.OwnerID)
	if err != nil {
		return err
	}

	updated, err := r.store.Transition(ctx, tasks.TransitionRequest{
		TaskID:    task.ID,
		From:      task.Status,
		To:        tasks.StatusCompleted,
		OutputURL: publicURL,
	})
	if err != nil {
		// A concurrent reconciler already settled the task.
		if errors.Is(err, services.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	r.logger.Info("task completed",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("output_url", publicURL))
	r.notify(ctx, updated)
	return nil
}

// settle moves the task into a terminal failure state.
func (r *Reconciler) settle(ctx context.Context, task *tasks.Task, to tasks.Status, reason string) error {
	updated, err := r.store.Transition(ctx, tasks.TransitionRequest{
		TaskID:       task.ID,
		From:         task.Status,
		To:           to,
		ErrorMessage: reason,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	r.logger.Info("task settled",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStatus, string(to)),
		logging.String("reason", reason))
	r.notify(ctx, updated)
	return nil
}

func (r *Reconciler) notify(ctx context.Context, task *tasks.Task) {
	if r.notifier == nil || task.WebhookURL == "" {
		return
	}
	if err := r.notifier.Notify(ctx, task); err != nil {
		r.logger.Warn("caller notification failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}
