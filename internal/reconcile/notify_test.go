package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"resonate/internal/services"
	"resonate/internal/tasks"
)

func terminalTask(webhookURL string) *tasks.Task {
	return &tasks.Task{
		ID:         "task-1",
		OwnerID:    "owner-1",
		Status:     tasks.StatusCompleted,
		OutputURL:  "https://cdn.example.com/public/task-1.wav",
		WebhookURL: webhookURL,
	}
}

func TestNotifyPostsPublicTask(t *testing.T) {
	var received tasks.Public
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
	}))
	defer server.Close()

	n := NewWebhookNotifierWithDoer(server.Client(), nil)
	if err := n.Notify(context.Background(), terminalTask(server.URL)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if received.ID != "task-1" || received.Status != tasks.StatusCompleted {
		t.Fatalf("unexpected notification payload %+v", received)
	}
	if received.OutputURL != "https://cdn.example.com/public/task-1.wav" {
		t.Fatalf("expected output url in payload, got %q", received.OutputURL)
	}
}

func TestNotifyRejectionIsDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifierWithDoer(server.Client(), nil)
	err := n.Notify(context.Background(), terminalTask(server.URL))
	if !errors.Is(err, services.ErrDelivery) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestNotifyUnreachableCallerIsDeliveryError(t *testing.T) {
	n := NewWebhookNotifier(0, nil)
	err := n.Notify(context.Background(), terminalTask("http://127.0.0.1:1/hook"))
	if !errors.Is(err, services.ErrDelivery) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}
