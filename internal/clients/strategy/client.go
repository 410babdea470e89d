// Package strategy provides the HTTP adapter that makes a remote yield
// strategy service look like a domain.Strategy. Each registered strategy
// runs as its own service; the vault only ever talks to it through this
// adapter.
package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/clientdata"
)

// Client is the raw HTTP client for one strategy service.
type Client struct {
	id        string
	asset     string
	baseURL   string
	authToken string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a client for one strategy service endpoint.
// cacheRepo is optional - if nil, status caching is disabled.
func NewClient(id, asset, baseURL, authToken string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		id:        id,
		asset:     asset,
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("client", "strategy").Str("strategy", id).Logger(),
		cacheRepo: cacheRepo,
	}
}

// ID returns the strategy identifier this client talks to.
func (c *Client) ID() string { return c.id }

type withdrawRequest struct {
	Amount uint64 `json:"amount"`
}

type withdrawResponse struct {
	Freed uint64 `json:"freed"`
	Loss  uint64 `json:"loss"`
}

type harvestResponse struct {
	Gain          uint64 `json:"gain"`
	Loss          uint64 `json:"loss"`
	DebtRepayment uint64 `json:"debt_repayment"`
}

type statusResponse struct {
	Active          bool   `json:"active"`
	TotalAssets     uint64 `json:"total_assets"`
	MaxLiquidatable uint64 `json:"max_liquidatable"`
}

// Withdraw asks the strategy to free `amount` of underlying and return it
// to the vault, reporting any realized loss.
func (c *Client) Withdraw(amount uint64) (*withdrawResponse, error) {
	var resp withdrawResponse
	if err := c.post("/api/v1/withdraw", withdrawRequest{Amount: amount}, &resp); err != nil {
		return nil, fmt.Errorf("failed to withdraw from strategy %s: %w", c.id, err)
	}
	c.invalidateStatus()
	return &resp, nil
}

// Harvest asks the strategy to realize its results since the last report.
func (c *Client) Harvest() (*harvestResponse, error) {
	var resp harvestResponse
	if err := c.post("/api/v1/harvest", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to harvest strategy %s: %w", c.id, err)
	}
	c.invalidateStatus()
	return &resp, nil
}

// EmergencyExit asks the strategy to unwind everything it can immediately.
func (c *Client) EmergencyExit() (uint64, error) {
	var resp withdrawResponse
	if err := c.post("/api/v1/emergency-exit", struct{}{}, &resp); err != nil {
		return 0, fmt.Errorf("failed to emergency-exit strategy %s: %w", c.id, err)
	}
	c.invalidateStatus()
	return resp.Freed, nil
}

// Status probes the strategy's liveness, holdings and available liquidity.
// Status is cache-first: liquidation previews hit this repeatedly.
func (c *Client) Status() (*statusResponse, error) {
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("strategy_status", c.id)
		if err == nil && data != nil {
			var cached statusResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	reqURL := c.baseURL + "/api/v1/status"
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request to strategy %s failed: %w", c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("strategy %s returned status %d", c.id, resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status from strategy %s: %w", c.id, err)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("strategy_status", c.id, status, clientdata.TTLStrategyStatus); err != nil {
			c.log.Warn().Err(err).Msg("Failed to cache strategy status")
		}
	}
	return &status, nil
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// invalidateStatus drops the cached status after any mutating call.
func (c *Client) invalidateStatus() {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Delete("strategy_status", c.id); err != nil {
		c.log.Warn().Err(err).Msg("Failed to invalidate cached strategy status")
	}
}
