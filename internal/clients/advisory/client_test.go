package advisory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/clientdata"
	steward "github.com/aristath/steward/internal/testing"
)

func testBatch() quotesResponse {
	return quotesResponse{
		Asset:           "USDC",
		MaxQuoteAgeSecs: 900,
		Candidates: []candidateQuote{
			{StrategyID: "strat-a", APY: 0.05, RiskScore: 1.2, Confidence: 0.9, UpdatedAt: 1_700_000_000, Round: 10, PrevRound: 9},
			{StrategyID: "strat-b", APY: 0.03, RiskScore: 1.0, Confidence: 0.8, UpdatedAt: 1_700_000_000, Round: 10, PrevRound: 9},
		},
	}
}

func TestGetCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/quotes", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("asset"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testBatch())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())

	ids, quotes, err := client.GetCandidates("USDC")
	require.NoError(t, err)
	assert.Equal(t, []string{"strat-a", "strat-b"}, ids)
	require.Len(t, quotes, 2)
	assert.Equal(t, 0.05, quotes[0].APY)
	assert.Equal(t, uint64(10), quotes[0].Round)
	assert.Equal(t, time.Unix(1_700_000_000, 0), quotes[0].UpdatedAt)
}

func TestMaxQuoteAge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(testBatch())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())

	age, err := client.MaxQuoteAge("USDC")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, age)
}

func TestGetCandidatesCacheHit(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(testBatch())
	}))
	defer server.Close()

	db := steward.NewTestDB(t, "cache")
	cache := clientdata.NewRepository(db.Conn())
	client := NewClient(server.URL, cache, zerolog.Nop())

	_, _, err := client.GetCandidates("USDC")
	require.NoError(t, err)
	_, _, err = client.GetCandidates("USDC")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestGetCandidatesStaleFallback(t *testing.T) {
	db := steward.NewTestDB(t, "cache")
	cache := clientdata.NewRepository(db.Conn())
	require.NoError(t, cache.Store("advisory_quotes", "USDC", testBatch(), -time.Minute))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, cache, zerolog.Nop())

	ids, _, err := client.GetCandidates("USDC")
	require.NoError(t, err)
	assert.Equal(t, []string{"strat-a", "strat-b"}, ids)
}

func TestGetCandidatesErrorWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())

	_, _, err := client.GetCandidates("USDC")
	assert.Error(t, err)
}
