/**
 * @description
 * This package provides a client for interacting with the external ledger host API.
 * The ledger host is the system of record for account balances: it executes atomic
 * value transfers between accounts and manages account creation. The lockbox-service
 * never mutates balances itself; it instructs the ledger host through this client.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, net/url, time: Standard Go libraries.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a client for the ledger host API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ledger host API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest represents the payload for an atomic ledger transfer.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// TransferResponse is the expected response from the ledger's transfer endpoint.
type TransferResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// BalanceResponse represents the balance response from the ledger host API.
type BalanceResponse struct {
	Data struct {
		Balance int64 `json:"balance"`
	} `json:"data"`
}

// CreateAccountRequest represents the payload for provisioning a ledger account.
type CreateAccountRequest struct {
	Address string `json:"address"`
}

// ErrorResponse represents an error from the ledger host API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown ledger api error"
}

// GetBalance returns the live balance of the given ledger account.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/balance", c.BaseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance for %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, decodeError(resp)
	}

	var balance BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return balance.Data.Balance, nil
}

// Transfer executes an atomic move of amount from one ledger account to another.
// The ledger host guarantees the transfer either fully applies or has no effect.
func (c *Client) Transfer(ctx context.Context, from, to string, amount int64, reason string) error {
	payload := TransferRequest{From: from, To: to, Amount: amount, Reason: reason}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/transfers", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build transfer request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute transfer %s -> %s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CreateAccount provisions a ledger account at the given derived address. A
// conflict response means the account already exists, which is acceptable: the
// ledger host owns account lifecycle and provisioning is idempotent.
func (c *Client) CreateAccount(ctx context.Context, address string) error {
	body, err := json.Marshal(CreateAccountRequest{Address: address})
	if err != nil {
		return fmt.Errorf("failed to marshal account request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build account request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var apiErr ErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		return &apiErr
	}
	return fmt.Errorf("ledger api returned status %d: %s", resp.StatusCode, string(raw))
}
