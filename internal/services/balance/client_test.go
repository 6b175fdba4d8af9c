package balance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"resonate/internal/services"
)

func TestDebitSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["asset"] != "coin" {
			t.Fatalf("expected coin asset, got %v", body["asset"])
		}
		if body["amount"] != 6.0 {
			t.Fatalf("expected amount 6, got %v", body["amount"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rcpt-1", "amount": 6.0})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	receipt, err := client.Debit(context.Background(), "owner-1", 6.0, map[string]any{"task_id": "t1"})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if receipt.ID != "rcpt-1" {
		t.Fatalf("expected receipt id, got %q", receipt.ID)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Debit(context.Background(), "owner-1", 6.0, nil)
	if !errors.Is(err, services.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestDebitServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	_, err := client.Debit(context.Background(), "owner-1", 6.0, nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDebitRejectsEmptyReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": 6.0})
	}))
	defer server.Close()

	client := NewClientWithDoer(server.URL, "key", server.Client())
	if _, err := client.Debit(context.Background(), "owner-1", 6.0, nil); err == nil {
		t.Fatal("expected empty receipt id to be rejected")
	}
}
