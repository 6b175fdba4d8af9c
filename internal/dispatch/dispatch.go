// Package dispatch drives a task from accepted to running on an inference
// backend: resolving the target voice, charging the owner, deriving the
// pitch shift, and submitting the job.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"resonate/internal/logging"
	"resonate/internal/providers"
	"resonate/internal/services"
	"resonate/internal/services/audioinfo"
	"resonate/internal/services/catalog"
	"resonate/internal/tasks"
)

const (
	submitAttempts   = 2
	submitRetryDelay = 250 * time.Millisecond
)

// Resolver looks up target voice models.
type Resolver interface {
	Resolve(ctx context.Context, voiceID string) (*catalog.VoiceModel, error)
}

// Charger prices and debits a task, returning the source measurement.
type Charger interface {
	Charge(ctx context.Context, task *tasks.Task) (*audioinfo.Analysis, error)
}

// Dispatcher advances pre-flight tasks onto an inference backend.
type Dispatcher struct {
	store          *tasks.Store
	resolver       Resolver
	meter          Charger
	submitter      providers.Submitter
	webhookBaseURL string
	logger         *slog.Logger
}

// NewDispatcher builds a dispatcher. webhookBaseURL is the public prefix
// backends call back on; when empty, jobs are submitted without a webhook
// and the sweeper's polling is the only reconciliation path.
func NewDispatcher(store *tasks.Store, resolver Resolver, meter Charger, submitter providers.Submitter, webhookBaseURL string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		store:          store,
		resolver:       resolver,
		meter:          meter,
		submitter:      submitter,
		webhookBaseURL: strings.TrimRight(strings.TrimSpace(webhookBaseURL), "/"),
		logger:         logging.WithComponent(logger, "dispatch"),
	}
}

// Dispatch runs a task through the pre-flight pipeline and submits it.
//
// The pipeline resumes from wherever the task currently stands, so a task
// recovered mid-flight is picked up at its last completed step rather than
// restarted. Business rejections (unknown voice, insufficient balance, no
// speech) fail the task here with its canonical reason; transient failures
// return an error and leave the task where it was for a later retry.
func (d *Dispatcher) Dispatch(ctx context.Context, task *tasks.Task) error {
	var err error
	if task.Status == tasks.StatusDraft {
		task, err = d.store.Transition(ctx, tasks.TransitionRequest{
			TaskID: task.ID,
			From:   tasks.StatusDraft,
			To:     tasks.StatusInit,
		})
		if err != nil {
			return err
		}
	}

	model, err := d.resolver.Resolve(ctx, task.TargetVoiceID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			if _, failErr := d.store.Fail(ctx, task.ID, task.Status, "Model not found."); failErr != nil {
				return failErr
			}
			d.logger.Warn("target voice not in catalog",
				logging.String(logging.FieldTaskID, task.ID),
				logging.String("voice_id", task.TargetVoiceID))
		}
		return err
	}

	if task.Status == tasks.StatusInit {
		task, err = d.preflight(ctx, task, model)
		if err != nil {
			return err
		}
	}

	if task.Status == tasks.StatusPitchAnalysis {
		task, err = d.store.Transition(ctx, tasks.TransitionRequest{
			TaskID: task.ID,
			From:   tasks.StatusPitchAnalysis,
			To:     tasks.StatusDispatched,
		})
		if err != nil {
			return err
		}
	}

	if task.Status != tasks.StatusDispatched {
		return services.Wrap(services.ErrInvalidTransition, "dispatch", "dispatch",
			"task is "+string(task.Status)+", nothing to submit", nil)
	}
	return d.submit(ctx, task, model)
}

// preflight charges the task and records the derived pitch shift, moving it
// from init to dispatched. A caller-provided shift skips the analysis step.
func (d *Dispatcher) preflight(ctx context.Context, task *tasks.Task, model *catalog.VoiceModel) (*tasks.Task, error) {
	analysis, err := d.meter.Charge(ctx, task)
	if err != nil {
		return nil, err
	}

	if task.PitchShift != nil {
		return d.store.Transition(ctx, tasks.TransitionRequest{
			TaskID: task.ID,
			From:   tasks.StatusInit,
			To:     tasks.StatusDispatched,
		})
	}

	shift := audioinfo.SemitoneShift(analysis.PitchMean, model.BasePitch)
	task, err = d.store.Transition(ctx, tasks.TransitionRequest{
		TaskID:     task.ID,
		From:       tasks.StatusInit,
		To:         tasks.StatusPitchAnalysis,
		PitchShift: &shift,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("pitch shift derived",
		logging.String(logging.FieldTaskID, task.ID),
		logging.Float64("source_pitch", analysis.PitchMean),
		logging.Float64("target_pitch", model.BasePitch),
		logging.Float64("semitones", shift))
	return task, nil
}

// submit hands the task to the backend and records the returned job handle.
func (d *Dispatcher) submit(ctx context.Context, task *tasks.Task, model *catalog.VoiceModel) error {
	var shift float64
	if task.PitchShift != nil {
		shift = *task.PitchShift
	}

	req := providers.SubmitRequest{
		TaskID:           task.ID,
		SourceURL:        task.SourceURL,
		ModelDownloadURL: model.DownloadURL,
		PitchShift:       shift,
		WebhookURL:       d.callbackURL(task.ID),
	}

	var (
		jobID string
		err   error
	)
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		jobID, err = d.submitter.Submit(ctx, req)
		if err == nil {
			break
		}
		if attempt < submitAttempts {
			d.logger.Warn("submission failed, retrying",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Int("attempt", attempt),
				logging.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(submitRetryDelay):
			}
		}
	}
	if err != nil {
		if _, failErr := d.store.Fail(ctx, task.ID, task.Status, services.FailureReason(err)); failErr != nil {
			return failErr
		}
		return err
	}

	if _, err := d.store.Transition(ctx, tasks.TransitionRequest{
		TaskID:        task.ID,
		From:          tasks.StatusDispatched,
		To:            tasks.StatusProcessing,
		Provider:      string(d.submitter.Kind()),
		ProviderJobID: jobID,
	}); err != nil {
		return err
	}

	d.logger.Info("task submitted",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldProvider, string(d.submitter.Kind())),
		logging.String(logging.FieldJobID, jobID))
	return nil
}

// callbackURL builds the inbound webhook address for one task.
func (d *Dispatcher) callbackURL(taskID string) string {
	if d.webhookBaseURL == "" {
		return ""
	}
	return d.webhookBaseURL + "/api/webhooks/" + string(d.submitter.Kind()) + "/" + taskID
}
