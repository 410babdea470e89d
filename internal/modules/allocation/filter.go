package allocation

import (
	"time"

	"github.com/aristath/steward/internal/domain"
)

// Rejection reasons for filtered quotes. Quotes are filtered individually;
// a bad quote never aborts the whole computation.
const (
	RejectUnregistered  = "unregistered"
	RejectStale         = "stale"
	RejectNonMonotonic  = "non_monotonic_rounds"
	RejectLowConfidence = "low_confidence"
	RejectZeroAPY       = "zero_apy"
)

// Rejected records why one quote was dropped, for logging and diagnostics.
type Rejected struct {
	ID     string
	Reason string
}

// FilterConfig tunes quote admission.
type FilterConfig struct {
	Now           time.Time
	MaxAge        time.Duration // quotes with age <= MaxAge are fresh (inclusive rule)
	MinConfidence float64
	IsRegistered  func(id string) bool
}

// FilterQuotes admits the candidates whose quotes are usable: registered
// strategy, fresh, monotonically advancing rounds, confident enough, and a
// nonzero yield. ids and quotes are parallel slices; mismatched lengths are
// truncated to the shorter one.
func FilterQuotes(ids []string, quotes []domain.YieldQuote, cfg FilterConfig) ([]Candidate, []Rejected) {
	n := len(ids)
	if len(quotes) < n {
		n = len(quotes)
	}

	var candidates []Candidate
	var rejected []Rejected
	for i := 0; i < n; i++ {
		id, q := ids[i], quotes[i]

		switch {
		case cfg.IsRegistered != nil && !cfg.IsRegistered(id):
			rejected = append(rejected, Rejected{ID: id, Reason: RejectUnregistered})
		case cfg.MaxAge > 0 && cfg.Now.Sub(q.UpdatedAt) > cfg.MaxAge:
			rejected = append(rejected, Rejected{ID: id, Reason: RejectStale})
		case q.Round <= q.PrevRound:
			rejected = append(rejected, Rejected{ID: id, Reason: RejectNonMonotonic})
		case q.Confidence < cfg.MinConfidence:
			rejected = append(rejected, Rejected{ID: id, Reason: RejectLowConfidence})
		case q.APY <= 0:
			rejected = append(rejected, Rejected{ID: id, Reason: RejectZeroAPY})
		default:
			candidates = append(candidates, Candidate{ID: id, Quote: q})
		}
	}
	return candidates, rejected
}
