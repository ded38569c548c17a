// Package cli implements the operator commands for a running facilitator.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIClient handles communication with the facilitator API
type APIClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewAPIClient creates a new API client. authToken may be empty; it is
// sent as a bearer token on every request when present.
func NewAPIClient(baseURL, authToken string) *APIClient {
	return &APIClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// doRequest performs an HTTP request with JSON marshaling/unmarshaling
func (c *APIClient) doRequest(method, endpoint string, expectedStatus int, reqBody interface{}, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		var errResp ErrorResponse
		if json.Unmarshal(respData, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("API error (%d %s %s): %s",
				resp.StatusCode, method, endpoint, errResp.Error)
		}
		// Include truncated response body for debugging
		bodyPreview := string(respData)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		return fmt.Errorf("unexpected status %d from %s %s: %s",
			resp.StatusCode, method, endpoint, bodyPreview)
	}

	if respBody != nil {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// HealthChecks reports per-dependency status from /health
type HealthChecks struct {
	Database string            `json:"database"`
	Chain    map[string]string `json:"chain"`
}

// HealthStatus is the facilitator's /health document
type HealthStatus struct {
	Status    string       `json:"status"`
	Timestamp int64        `json:"timestamp"`
	Version   string       `json:"version"`
	Checks    HealthChecks `json:"checks"`
	Warnings  []string     `json:"warnings"`
}

// Health fetches the facilitator health document
func (c *APIClient) Health() (*HealthStatus, error) {
	var result HealthStatus
	if err := c.doRequest(http.MethodGet, "/health", http.StatusOK, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TransactionSummary is one redacted audit row from /settle/recent
type TransactionSummary struct {
	ID          string     `json:"id"`
	Payer       string     `json:"payer"`
	Receiver    string     `json:"receiver"`
	Token       string     `json:"token"`
	Symbol      string     `json:"symbol"`
	Amount      string     `json:"amount"`
	Fee         string     `json:"fee"`
	FeeBps      int        `json:"feeBps"`
	Network     string     `json:"network"`
	TxID        *string    `json:"txId,omitempty"`
	Status      string     `json:"status"`
	ErrorReason *string    `json:"errorReason,omitempty"`
	Protocol    string     `json:"protocol"`
	CreatedAt   time.Time  `json:"createdAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

type recentResponse struct {
	Transactions []TransactionSummary `json:"transactions"`
	Count        int                  `json:"count"`
}

// RecentSettlements lists the latest settlement attempts
func (c *APIClient) RecentSettlements(limit int) ([]TransactionSummary, error) {
	endpoint := "/settle/recent"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var result recentResponse
	if err := c.doRequest(http.MethodGet, endpoint, http.StatusOK, nil, &result); err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// SymbolVolume is the settled volume for a single token symbol
type SymbolVolume struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Count  int64  `json:"count"`
}

// SettlementStats holds audit log aggregates from /settle/stats
type SettlementStats struct {
	TotalTransactions int64          `json:"totalTransactions"`
	Pending           int64          `json:"pending"`
	Succeeded         int64          `json:"succeeded"`
	Failed            int64          `json:"failed"`
	GrossVolume       string         `json:"grossVolume"`
	FeesCollected     string         `json:"feesCollected"`
	VolumeBySymbol    []SymbolVolume `json:"volumeBySymbol"`
}

// SettlementStats fetches audit log aggregates
func (c *APIClient) SettlementStats() (*SettlementStats, error) {
	var result SettlementStats
	if err := c.doRequest(http.MethodGet, "/settle/stats", http.StatusOK, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Webhook is a delivery registration as the API reports it
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	HasSecret bool      `json:"hasSecret"`
}

type webhookListResponse struct {
	Webhooks []Webhook `json:"webhooks"`
	Count    int       `json:"count"`
}

// CreateWebhookRequest registers a delivery endpoint
type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Secret string   `json:"secret,omitempty"`
}

// ListWebhooks fetches all webhook registrations
func (c *APIClient) ListWebhooks() ([]Webhook, error) {
	var result webhookListResponse
	if err := c.doRequest(http.MethodGet, "/webhooks", http.StatusOK, nil, &result); err != nil {
		return nil, err
	}
	return result.Webhooks, nil
}

// CreateWebhook registers a new delivery endpoint
func (c *APIClient) CreateWebhook(hookURL, secret string, events []string) (*Webhook, error) {
	req := CreateWebhookRequest{URL: hookURL, Secret: secret, Events: events}
	var result Webhook
	if err := c.doRequest(http.MethodPost, "/webhooks", http.StatusCreated, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteWebhook deactivates a registration
func (c *APIClient) DeleteWebhook(id string) error {
	return c.doRequest(http.MethodDelete, "/webhooks/"+url.PathEscape(id), http.StatusOK, nil, nil)
}

// Token is a whitelist entry as the API reports it
type Token struct {
	ChainID     int64  `json:"chainId"`
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    int    `json:"decimals"`
	FeeBps      int    `json:"feeBps"`
	FeeExempt   bool   `json:"feeExempt"`
	DiscountBps int    `json:"discountBps,omitempty"`
}

type tokenListResponse struct {
	Tokens []Token `json:"tokens"`
	Count  int     `json:"count"`
}

// ListTokens fetches the token whitelist, optionally for one chain
func (c *APIClient) ListTokens(chainID int64) ([]Token, error) {
	endpoint := "/admin/tokens"
	if chainID != 0 {
		endpoint += "?chainId=" + strconv.FormatInt(chainID, 10)
	}
	var result tokenListResponse
	if err := c.doRequest(http.MethodGet, endpoint, http.StatusOK, nil, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}
