package ledger

import "math/big"

// MulDiv computes a*b/den without intermediate uint64 overflow.
// Returns 0 when den is 0; division truncates toward zero.
func MulDiv(a, b, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	var n big.Int
	n.SetUint64(a)
	var m big.Int
	m.SetUint64(b)
	n.Mul(&n, &m)
	n.Div(&n, new(big.Int).SetUint64(den))
	if !n.IsUint64() {
		// Saturate rather than wrap; callers always bound results against
		// real balances before moving funds.
		return ^uint64(0)
	}
	return n.Uint64()
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
