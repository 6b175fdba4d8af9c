package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resonate/internal/config"
	"resonate/internal/services"
)

// HTTPDoer describes the HTTP client used by the balance service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Receipt is the ledger's reference for a successful debit.
type Receipt struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

// Client debits user balances through the external ledger service.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewClient builds a balance client from configuration.
func NewClient(cfg config.ServiceEndpoint) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWithDoer builds a balance client with an injected HTTP doer.
func NewClientWithDoer(baseURL, apiKey string, client HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

type debitRequest struct {
	UserID   string         `json:"user_id"`
	Asset    string         `json:"asset"`
	Amount   float64        `json:"amount"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Debit charges amount coins against the owner's balance.
//
// An explicit insufficient-funds response maps to
// services.ErrInsufficientFunds; server-side and transport failures map to
// services.ErrTransient so the meter can retry them.
func (c *Client) Debit(ctx context.Context, ownerID string, amount float64, metadata map[string]any) (*Receipt, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return nil, services.Wrap(services.ErrTransient, "balance", "debit", "service not configured", nil)
	}

	body, err := json.Marshal(debitRequest{
		UserID:   ownerID,
		Asset:    "coin",
		Amount:   amount,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal debit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/usages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build debit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "balance", "debit", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, services.Wrap(services.ErrInsufficientFunds, "balance", "debit", ownerID, nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, services.Wrap(services.ErrTransient, "balance", "debit", fmt.Sprintf("ledger returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode debit response: %w", err)
	}
	if strings.TrimSpace(receipt.ID) == "" {
		return nil, fmt.Errorf("ledger returned an empty receipt id")
	}
	return &receipt, nil
}
