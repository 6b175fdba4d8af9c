package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"resonate/internal/services"
)

func TestResolveReturnsModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/neon_singer" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"voice_id":     "neon_singer",
			"display_name": "Neon Singer",
			"model_url":    "https://models.example.com/neon.zip",
			"base_pitch":   196.0,
		})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	model, err := client.Resolve(context.Background(), "neon_singer")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if model.DownloadURL != "https://models.example.com/neon.zip" {
		t.Fatalf("unexpected model url %q", model.DownloadURL)
	}
	if model.BasePitch != 196.0 {
		t.Fatalf("unexpected base pitch %v", model.BasePitch)
	}
}

func TestResolveUnknownVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Resolve(context.Background(), "ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveRejectsModelWithoutArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"voice_id": "draft_voice"})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Resolve(context.Background(), "draft_voice")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing artifact, got %v", err)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model_url": "https://models.example.com/neon.zip",
		})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	model, err := client.Resolve(context.Background(), "neon_singer-v2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if model.DisplayName != "Neon Singer V2" {
		t.Fatalf("unexpected display name %q", model.DisplayName)
	}
	if model.VoiceID != "neon_singer-v2" {
		t.Fatalf("expected requested id to backfill, got %q", model.VoiceID)
	}
}
