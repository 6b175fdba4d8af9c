package tasks_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"resonate/internal/services"
	"resonate/internal/tasks"
	"resonate/internal/testsupport"
)

func TestTransitionWalksFullLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")

	final := testsupport.AdvanceTask(t, store, task,
		tasks.StatusInit,
		tasks.StatusPitchAnalysis,
		tasks.StatusDispatched,
		tasks.StatusProcessing,
		tasks.StatusCompleted,
	)

	if final.Status != tasks.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.PitchShift == nil {
		t.Fatal("expected pitch shift to be recorded")
	}
	if final.ProviderJobID == "" {
		t.Fatal("expected provider job id to be recorded")
	}
	if final.OutputURL == "" {
		t.Fatal("expected output url to be recorded")
	}
	if final.Status.Progress() != 100 {
		t.Fatalf("expected progress 100, got %d", final.Status.Progress())
	}
}

func TestTransitionRejectsIllegalStep(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")

	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID:    task.ID,
		From:      tasks.StatusDraft,
		To:        tasks.StatusCompleted,
		OutputURL: "https://cdn.example.com/out.wav",
	})
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransitionStaleWriterLoses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	testsupport.AdvanceTask(t, store, task, tasks.StatusInit)

	// First writer wins the draft -> init race; the second sees stale state.
	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID: task.ID,
		From:   tasks.StatusDraft,
		To:     tasks.StatusInit,
	})
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for stale writer, got %v", err)
	}

	current, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != tasks.StatusInit {
		t.Fatalf("expected task to stay at init, got %s", current.Status)
	}
}

func TestTransitionTerminalStatesAreSticky(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	testsupport.AdvanceTask(t, store, task, tasks.StatusInit, tasks.StatusError)

	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID: task.ID,
		From:   tasks.StatusError,
		To:     tasks.StatusInit,
	})
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to be sticky, got %v", err)
	}
}

func TestTransitionFailureReachableFromAnyNonTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	for _, from := range []tasks.Status{
		tasks.StatusDraft,
		tasks.StatusInit,
		tasks.StatusPitchAnalysis,
		tasks.StatusDispatched,
		tasks.StatusProcessing,
	} {
		if !tasks.CanTransition(from, tasks.StatusError) {
			t.Errorf("error should be reachable from %s", from)
		}
		if !tasks.CanTransition(from, tasks.StatusNoSpeech) {
			t.Errorf("no_speech should be reachable from %s", from)
		}
	}

	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	failed, err := store.Fail(context.Background(), task.ID, tasks.StatusDraft, "Insufficient balance.")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.ErrorMessage != "Insufficient balance." {
		t.Fatalf("expected failure reason to persist, got %q", failed.ErrorMessage)
	}
}

func TestTransitionPitchShiftIsWriteOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task, tasks.StatusInit, tasks.StatusPitchAnalysis)

	other := 7.0
	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID:     task.ID,
		From:       tasks.StatusPitchAnalysis,
		To:         tasks.StatusDispatched,
		PitchShift: &other,
	})
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected write-once pitch shift to reject overwrite, got %v", err)
	}

	current, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.PitchShift == nil || *current.PitchShift != 2.5 {
		t.Fatalf("expected original pitch shift to survive, got %v", current.PitchShift)
	}
}

func TestTransitionCompletedRequiresOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	task = testsupport.AdvanceTask(t, store, task,
		tasks.StatusInit, tasks.StatusPitchAnalysis, tasks.StatusDispatched, tasks.StatusProcessing)

	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID: task.ID,
		From:   tasks.StatusProcessing,
		To:     tasks.StatusCompleted,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without output url, got %v", err)
	}
}

func TestTransitionUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.Transition(context.Background(), tasks.TransitionRequest{
		TaskID: "missing",
		From:   tasks.StatusDraft,
		To:     tasks.StatusInit,
	})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionRandomWalkKeepsOutputInvariant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	rng := rand.New(rand.NewSource(7))
	statuses := tasks.AllStatuses()

	for walk := 0; walk < 10; walk++ {
		current := testsupport.NewTask(t, store, "owner-1", "voice-1")

		for step := 0; step < 25; step++ {
			target := statuses[rng.Intn(len(statuses))]
			req := tasks.TransitionRequest{
				TaskID: current.ID,
				From:   current.Status,
				To:     target,
			}
			switch target {
			case tasks.StatusPitchAnalysis:
				if current.PitchShift == nil {
					shift := 2.5
					req.PitchShift = &shift
				}
			case tasks.StatusProcessing:
				if current.ProviderJobID == "" {
					req.Provider = "prediction"
					req.ProviderJobID = "job-" + current.ID
				}
			case tasks.StatusCompleted:
				req.OutputURL = "https://cdn.example.com/output/" + current.ID + ".wav"
			case tasks.StatusError, tasks.StatusNoSpeech:
				req.ErrorMessage = "conversion failed"
			}

			updated, err := store.Transition(context.Background(), req)
			if err == nil {
				current = updated
			} else {
				current, err = store.GetByID(context.Background(), current.ID)
				if err != nil {
					t.Fatalf("GetByID after rejected step: %v", err)
				}
			}

			hasOutput := current.OutputURL != ""
			if hasOutput != (current.Status == tasks.StatusCompleted) {
				t.Fatalf("walk %d step %d: output_url presence %v contradicts status %s",
					walk, step, hasOutput, current.Status)
			}
		}
	}
}

func TestRetryResetsFailedTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	testsupport.AdvanceTask(t, store, task,
		tasks.StatusInit, tasks.StatusPitchAnalysis, tasks.StatusDispatched,
		tasks.StatusProcessing, tasks.StatusError)

	retried, err := store.Retry(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !retried {
		t.Fatal("expected failed task to be retryable")
	}

	current, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != tasks.StatusDraft {
		t.Fatalf("expected draft after retry, got %s", current.Status)
	}
	if current.ProviderJobID != "" || current.OutputURL != "" || current.ErrorMessage != "" {
		t.Fatal("expected provider handle and failure fields to be cleared")
	}
}

func TestRetryNeverTouchesCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	task := testsupport.NewTask(t, store, "owner-1", "voice-1")
	testsupport.AdvanceTask(t, store, task,
		tasks.StatusInit, tasks.StatusPitchAnalysis, tasks.StatusDispatched,
		tasks.StatusProcessing, tasks.StatusCompleted)

	retried, err := store.Retry(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried {
		t.Fatal("completed task must not be retryable")
	}
}
