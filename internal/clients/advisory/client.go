// Package advisory provides the HTTP client for the external yield advisory
// service. The advisory publishes per-asset candidate strategies with APY,
// risk and confidence figures; the vault treats them as hints, never as
// commands.
package advisory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/clientdata"
	"github.com/aristath/steward/internal/domain"
)

// Client for the yield advisory API.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new advisory client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "advisory").Logger(),
		cacheRepo: cacheRepo,
	}
}

// SetAuthToken sets the bearer token presented to the advisory service.
// Tokens live in the settings database, so the client is created first and
// updated once settings are loaded.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// candidateQuote is one advisory candidate on the wire.
type candidateQuote struct {
	StrategyID string  `json:"strategy_id"`
	APY        float64 `json:"apy"`
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`
	UpdatedAt  int64   `json:"updated_at"`
	Round      uint64  `json:"round"`
	PrevRound  uint64  `json:"prev_round"`
}

// quotesResponse is the advisory quote batch for one asset.
type quotesResponse struct {
	Asset           string           `json:"asset"`
	MaxQuoteAgeSecs int64            `json:"max_quote_age_secs"`
	Candidates      []candidateQuote `json:"candidates"`
}

// GetCandidates fetches the current candidate set for an asset.
// If the API fails, returns stale cached data if available (stale data > no data).
func (c *Client) GetCandidates(asset string) ([]string, []domain.YieldQuote, error) {
	batch, err := c.fetchQuotes(asset)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(batch.Candidates))
	quotes := make([]domain.YieldQuote, 0, len(batch.Candidates))
	for _, cand := range batch.Candidates {
		ids = append(ids, cand.StrategyID)
		quotes = append(quotes, domain.YieldQuote{
			APY:        cand.APY,
			RiskScore:  cand.RiskScore,
			Confidence: cand.Confidence,
			UpdatedAt:  time.Unix(cand.UpdatedAt, 0),
			Round:      cand.Round,
			PrevRound:  cand.PrevRound,
		})
	}
	return ids, quotes, nil
}

// MaxQuoteAge returns the advisory's declared freshness window for an asset.
func (c *Client) MaxQuoteAge(asset string) (time.Duration, error) {
	batch, err := c.fetchQuotes(asset)
	if err != nil {
		return 0, err
	}
	if batch.MaxQuoteAgeSecs <= 0 {
		return 0, fmt.Errorf("advisory returned invalid max quote age %d for %s", batch.MaxQuoteAgeSecs, asset)
	}
	return time.Duration(batch.MaxQuoteAgeSecs) * time.Second, nil
}

// fetchQuotes returns the quote batch for an asset, cache-first.
func (c *Client) fetchQuotes(asset string) (*quotesResponse, error) {
	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("advisory_quotes", asset)
		if err == nil && data != nil {
			var cached quotesResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				c.log.Debug().
					Str("asset", asset).
					Int("candidates", len(cached.Candidates)).
					Msg("Cache hit")
				return &cached, nil
			}
		}
	}

	reqURL := fmt.Sprintf("%s/api/v1/quotes?asset=%s", c.baseURL, url.QueryEscape(asset))
	c.log.Debug().Str("url", reqURL).Msg("Fetching advisory quotes")

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build advisory request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if stale, ok := c.getStaleFromCache(asset); ok {
			c.log.Warn().
				Err(err).
				Str("asset", asset).
				Int("candidates", len(stale.Candidates)).
				Msg("Advisory API failed, using stale cached quotes")
			return stale, nil
		}
		return nil, fmt.Errorf("advisory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if stale, ok := c.getStaleFromCache(asset); ok {
			c.log.Warn().
				Int("status", resp.StatusCode).
				Str("asset", asset).
				Msg("Advisory API returned error, using stale cached quotes")
			return stale, nil
		}
		return nil, fmt.Errorf("advisory API returned status %d", resp.StatusCode)
	}

	var batch quotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode advisory response: %w", err)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("advisory_quotes", asset, batch, clientdata.TTLAdvisoryQuotes); err != nil {
			c.log.Warn().Err(err).Str("asset", asset).Msg("Failed to cache advisory quotes")
		}
	}

	return &batch, nil
}

// getStaleFromCache retrieves quotes from cache regardless of expiration.
func (c *Client) getStaleFromCache(asset string) (*quotesResponse, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}
	data, err := c.cacheRepo.Get("advisory_quotes", asset)
	if err != nil || data == nil {
		return nil, false
	}
	var cached quotesResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}
