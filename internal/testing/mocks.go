// Package testing provides testing utilities and helpers for the steward project.
package testing

import (
	"sync"
	"time"

	"github.com/aristath/steward/internal/domain"
)

// MockStrategy is a mock implementation of domain.Strategy for testing.
// All balances are configured directly; Withdraw and Harvest mutate the
// held amount the way a real adapter would.
type MockStrategy struct {
	mu sync.Mutex

	asset      string
	held       uint64
	active     bool
	liquidCap  uint64 // 0 means no ceiling
	lossPerOp  uint64 // loss charged on every Withdraw call
	refuse     error  // error returned by Withdraw when set
	harvestErr error

	harvestGain uint64
	harvestLoss uint64
	harvestRepa uint64

	withdrawCalls int
}

// NewMockStrategy creates a mock strategy holding the given amount.
func NewMockStrategy(asset string, held uint64) *MockStrategy {
	return &MockStrategy{asset: asset, held: held, active: true}
}

// SetLiquidityCeiling caps how much a single Withdraw may free.
func (m *MockStrategy) SetLiquidityCeiling(limit uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidCap = limit
}

// SetLossPerWithdrawal makes every withdrawal realize the given loss.
func (m *MockStrategy) SetLossPerWithdrawal(loss uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossPerOp = loss
}

// SetWithdrawError makes Withdraw fail with the given error.
func (m *MockStrategy) SetWithdrawError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse = err
}

// SetHarvestResult configures the next Harvest return values.
func (m *MockStrategy) SetHarvestResult(gain, loss, debtRepayment uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.harvestGain = gain
	m.harvestLoss = loss
	m.harvestRepa = debtRepayment
}

// SetHarvestError makes Harvest fail with the given error.
func (m *MockStrategy) SetHarvestError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.harvestErr = err
}

// SetActive toggles the strategy's active flag.
func (m *MockStrategy) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

// SetHeld overrides the estimated holdings.
func (m *MockStrategy) SetHeld(held uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = held
}

// WithdrawCalls returns how many times Withdraw was invoked.
func (m *MockStrategy) WithdrawCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withdrawCalls
}

// Asset returns the configured asset identifier.
func (m *MockStrategy) Asset() string { return m.asset }

// Withdraw frees up to amount from the mock holdings.
func (m *MockStrategy) Withdraw(amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawCalls++
	if m.refuse != nil {
		return 0, m.refuse
	}
	loss := m.lossPerOp
	if amount > m.held {
		amount = m.held
	}
	m.held -= amount
	return loss, nil
}

// Harvest returns the configured harvest result.
func (m *MockStrategy) Harvest() (uint64, uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.harvestErr != nil {
		return 0, 0, 0, m.harvestErr
	}
	return m.harvestGain, m.harvestLoss, m.harvestRepa, nil
}

// EstimatedTotalAssets returns the mock holdings.
func (m *MockStrategy) EstimatedTotalAssets() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held, nil
}

// MaxLiquidatable returns the configured liquidity ceiling, or the full
// holdings when no ceiling is set.
func (m *MockStrategy) MaxLiquidatable() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liquidCap == 0 || m.liquidCap > m.held {
		return m.held, nil
	}
	return m.liquidCap, nil
}

// IsActive reports whether the mock is active.
func (m *MockStrategy) IsActive() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

// EmergencyExit pulls everything out of the mock.
func (m *MockStrategy) EmergencyExit() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := m.held
	m.held = 0
	return freed, nil
}

// MockAdvisorySource is a mock implementation of domain.AdvisorySource.
type MockAdvisorySource struct {
	mu         sync.RWMutex
	candidates map[string][]string
	quotes     map[string][]domain.YieldQuote
	maxAge     time.Duration
	err        error
}

// NewMockAdvisorySource creates an empty advisory source with a one hour
// freshness window.
func NewMockAdvisorySource() *MockAdvisorySource {
	return &MockAdvisorySource{
		candidates: make(map[string][]string),
		quotes:     make(map[string][]domain.YieldQuote),
		maxAge:     time.Hour,
	}
}

// SetCandidates sets the candidate set returned for an asset.
func (m *MockAdvisorySource) SetCandidates(asset string, ids []string, quotes []domain.YieldQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[asset] = ids
	m.quotes[asset] = quotes
}

// SetMaxQuoteAge sets the advertised freshness window.
func (m *MockAdvisorySource) SetMaxQuoteAge(age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = age
}

// SetError makes all calls fail with the given error.
func (m *MockAdvisorySource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetCandidates returns the configured candidate set.
func (m *MockAdvisorySource) GetCandidates(asset string) ([]string, []domain.YieldQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.candidates[asset], m.quotes[asset], nil
}

// MaxQuoteAge returns the configured freshness window.
func (m *MockAdvisorySource) MaxQuoteAge(asset string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.maxAge, nil
}

// MockShareSupply is an in-memory implementation of domain.ShareSupply.
type MockShareSupply struct {
	mu       sync.RWMutex
	balances map[string]uint64
	total    uint64
}

// NewMockShareSupply creates an empty share registry.
func NewMockShareSupply() *MockShareSupply {
	return &MockShareSupply{balances: make(map[string]uint64)}
}

// TotalSupply returns the total outstanding shares.
func (m *MockShareSupply) TotalSupply() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, nil
}

// BalanceOf returns the share balance of a holder.
func (m *MockShareSupply) BalanceOf(holder string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[holder], nil
}

// Mint credits shares to a holder.
func (m *MockShareSupply) Mint(holder string, shares uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[holder] += shares
	m.total += shares
	return nil
}

// Burn debits shares from a holder.
func (m *MockShareSupply) Burn(holder string, shares uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[holder] < shares {
		shares = m.balances[holder]
	}
	m.balances[holder] -= shares
	m.total -= shares
	return nil
}
