package clientdata

import "time"

// TTL constants for cached client data.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLAdvisoryQuotes keeps quote batches briefly; the advisory service
	// publishes new rounds every few minutes and stale rounds are rejected
	// downstream anyway.
	TTLAdvisoryQuotes = 5 * time.Minute

	// TTLStrategyStatus caches liveness and liquidity probes between ticks.
	TTLStrategyStatus = time.Minute
)
