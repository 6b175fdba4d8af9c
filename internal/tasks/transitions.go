package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resonate/internal/services"
)

// TransitionRequest describes one state-machine step. Fields other than
// TaskID/From/To carry the side effects that must land atomically with the
// status write: the computed pitch shift, the provider job handle, the
// output reference, or the failure reason.
type TransitionRequest struct {
	TaskID string
	From   Status
	To     Status

	PitchShift    *float64
	Provider      string
	ProviderJobID string
	OutputURL     string
	ErrorMessage  string
}

// Transition atomically advances a task from one status to another.
//
// The write is a compare-and-swap on the current status: concurrent
// attempts to advance the same task from the same prior state may race at
// the I/O level, but only one UPDATE can match the WHERE clause, so only
// one wins. Write-once fields (pitch_shift, provider_job_id, output_url)
// additionally guard on being unset.
//
// On success the freshly persisted task is returned. An illegal or stale
// step fails with services.ErrInvalidTransition and leaves the task
// unchanged; an unknown task fails with services.ErrNotFound.
func (s *Store) Transition(ctx context.Context, req TransitionRequest) (*Task, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, services.Wrap(services.ErrValidation, "tasks", "transition", "task id is required", nil)
	}
	if !CanTransition(req.From, req.To) {
		return nil, services.Wrap(
			services.ErrInvalidTransition,
			"tasks", "transition",
			fmt.Sprintf("%s -> %s is not a legal step", req.From, req.To),
			nil,
		)
	}
	if req.To == StatusCompleted && strings.TrimSpace(req.OutputURL) == "" {
		return nil, services.Wrap(services.ErrValidation, "tasks", "transition", "completed requires an output url", nil)
	}
	if req.To != StatusCompleted && req.OutputURL != "" {
		return nil, services.Wrap(services.ErrValidation, "tasks", "transition", "output url is only set on completion", nil)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{req.To, time.Now().UTC().Format(time.RFC3339Nano)}
	where := []string{"id = ?", "status = ?"}

	if req.PitchShift != nil {
		set = append(set, "pitch_shift = ?")
		args = append(args, *req.PitchShift)
		where = append(where, "pitch_shift IS NULL")
	}
	if req.ProviderJobID != "" {
		set = append(set, "provider = ?", "provider_job_id = ?")
		args = append(args, req.Provider, req.ProviderJobID)
		where = append(where, "provider_job_id IS NULL")
	}
	if req.OutputURL != "" {
		set = append(set, "output_url = ?")
		args = append(args, req.OutputURL)
		where = append(where, "output_url IS NULL")
	}
	if req.To == StatusError || req.To == StatusNoSpeech {
		set = append(set, "error_message = ?")
		args = append(args, req.ErrorMessage)
	}

	args = append(args, req.TaskID, req.From)

	query := `UPDATE tasks SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ")

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transition task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetByID(ctx, req.TaskID)
		if getErr != nil {
			return nil, getErr
		}
		if current == nil {
			return nil, services.Wrap(services.ErrNotFound, "tasks", "transition", req.TaskID, nil)
		}
		return nil, services.Wrap(
			services.ErrInvalidTransition,
			"tasks", "transition",
			fmt.Sprintf("expected status %s, task is %s", req.From, current.Status),
			nil,
		)
	}

	return s.GetByID(ctx, req.TaskID)
}

// Fail moves a task from its expected current status into error with a
// human-readable reason. Convenience wrapper over Transition.
func (s *Store) Fail(ctx context.Context, id string, from Status, reason string) (*Task, error) {
	return s.Transition(ctx, TransitionRequest{
		TaskID:       id,
		From:         from,
		To:           StatusError,
		ErrorMessage: reason,
	})
}
