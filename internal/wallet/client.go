// internal/wallet/client.go
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geoflags/territory/pkg/core"
)

// Client handles communication with a remote wallet service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new wallet service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the wallet service is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
	Message string  `json:"message,omitempty"`
}

func (c *Client) Debit(ctx context.Context, playerID string, amount float64) error {
	if err := checkAmount(playerID, amount); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, playerID, "/debit", &amountRequest{Amount: amount})
	return err
}

func (c *Client) Credit(ctx context.Context, playerID string, amount float64) error {
	if err := checkAmount(playerID, amount); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, playerID, "/credit", &amountRequest{Amount: amount})
	return err
}

func (c *Client) Balance(ctx context.Context, playerID string) (float64, error) {
	if playerID == "" {
		return 0, core.Errorf(core.KindValidation, "player id is required")
	}
	resp, err := c.do(ctx, http.MethodGet, playerID, "", nil)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *Client) do(ctx context.Context, method, playerID, suffix string, body any) (balanceResponse, error) {
	var out balanceResponse

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return out, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	endpoint := c.baseURL + "/api/v1/wallets/" + url.PathEscape(playerID) + suffix
	req, err := http.NewRequestWithContext(ctx, method, endpoint, &buf)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, core.Wrap(core.KindStorageUnavailable, err, "wallet request failed")
	}
	defer resp.Body.Close()

	_ = json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return out, core.Errorf(core.KindInsufficientFunds, "%s", reasonOr(out.Message, "wallet rejected the debit"))
	case resp.StatusCode == http.StatusNotFound:
		return out, core.Errorf(core.KindNotFound, "wallet for player %s not found", playerID)
	case resp.StatusCode >= 400:
		return out, core.Errorf(core.KindStorageUnavailable, "wallet returned status %d", resp.StatusCode)
	}
	return out, nil
}

func reasonOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
