package testsupport

import (
	"context"
	"testing"

	"resonate/internal/config"
	"resonate/internal/tasks"
)

// MustOpenStore opens a tasks.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *tasks.Store {
	t.Helper()

	store, err := tasks.Open(cfg)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// TaskOption adjusts the parameters of a fixture task.
type TaskOption func(*tasks.NewTaskParams)

// WithWebhookURL registers a caller callback URL on the fixture task.
func WithWebhookURL(url string) TaskOption {
	return func(params *tasks.NewTaskParams) {
		params.WebhookURL = url
	}
}

// NewTask creates a draft task for tests using the provided store.
func NewTask(t testing.TB, store *tasks.Store, ownerID, voiceID string, opts ...TaskOption) *tasks.Task {
	t.Helper()

	params := tasks.NewTaskParams{
		OwnerID:       ownerID,
		SourceURL:     "https://cdn.example.com/source/" + ownerID + ".wav",
		TargetVoiceID: voiceID,
	}
	for _, opt := range opts {
		opt(&params)
	}

	task, err := store.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return task
}

// AdvanceTask walks a task through the given statuses in order, failing the
// test on any illegal step. Provider-handle and output requirements are
// satisfied with fixed fixtures.
func AdvanceTask(t testing.TB, store *tasks.Store, task *tasks.Task, path ...tasks.Status) *tasks.Task {
	t.Helper()

	current := task
	for _, next := range path {
		req := tasks.TransitionRequest{
			TaskID: current.ID,
			From:   current.Status,
			To:     next,
		}
		switch next {
		case tasks.StatusPitchAnalysis:
			shift := 2.5
			req.PitchShift = &shift
		case tasks.StatusProcessing:
			req.Provider = "prediction"
			req.ProviderJobID = "job-" + current.ID
		case tasks.StatusCompleted:
			req.OutputURL = "https://cdn.example.com/output/" + current.ID + ".wav"
		case tasks.StatusError:
			req.ErrorMessage = "conversion failed"
		}
		updated, err := store.Transition(context.Background(), req)
		if err != nil {
			t.Fatalf("transition %s -> %s: %v", current.Status, next, err)
		}
		current = updated
	}
	return current
}
