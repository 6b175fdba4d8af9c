package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"resonate/internal/services"
)

func TestStoreReturnsPublicURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["public"] != true {
			t.Fatal("expected public upload")
		}
		if body["user_id"] != "owner-1" {
			t.Fatalf("expected owner id, got %v", body["user_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://cdn.example.com/out.wav"})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	url, err := client.Store(context.Background(), "https://backend.example.com/tmp/out.wav", "out.wav", "owner-1")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if url != "https://cdn.example.com/out.wav" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestStoreClientErrorIsValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Store(context.Background(), "https://backend.example.com/tmp/out.wav", "out.wav", "owner-1")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStoreServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Store(context.Background(), "https://backend.example.com/tmp/out.wav", "out.wav", "owner-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStoreRejectsEmptyURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	if _, err := client.Store(context.Background(), "https://backend.example.com/tmp/out.wav", "out.wav", "owner-1"); err == nil {
		t.Fatal("expected empty url to be rejected")
	}
}
