package strategy

import (
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/clientdata"
)

// Adapter adapts a strategy Client to domain.Strategy.
// The adapter owns the HTTP client internally.
type Adapter struct {
	client *Client
	asset  string
}

// NewAdapter creates a domain.Strategy backed by a remote strategy service.
func NewAdapter(id, asset, baseURL, authToken string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: NewClient(id, asset, baseURL, authToken, cacheRepo, log),
		asset:  asset,
	}
}

// Asset implements domain.Strategy.
func (a *Adapter) Asset() string { return a.asset }

// Withdraw implements domain.Strategy.
func (a *Adapter) Withdraw(amount uint64) (uint64, error) {
	resp, err := a.client.Withdraw(amount)
	if err != nil {
		return 0, err
	}
	return resp.Loss, nil
}

// Harvest implements domain.Strategy.
func (a *Adapter) Harvest() (uint64, uint64, uint64, error) {
	resp, err := a.client.Harvest()
	if err != nil {
		return 0, 0, 0, err
	}
	return resp.Gain, resp.Loss, resp.DebtRepayment, nil
}

// EstimatedTotalAssets implements domain.Strategy.
func (a *Adapter) EstimatedTotalAssets() (uint64, error) {
	status, err := a.client.Status()
	if err != nil {
		return 0, err
	}
	return status.TotalAssets, nil
}

// MaxLiquidatable implements domain.Strategy.
func (a *Adapter) MaxLiquidatable() (uint64, error) {
	status, err := a.client.Status()
	if err != nil {
		return 0, err
	}
	return status.MaxLiquidatable, nil
}

// IsActive implements domain.Strategy.
func (a *Adapter) IsActive() (bool, error) {
	status, err := a.client.Status()
	if err != nil {
		return false, err
	}
	return status.Active, nil
}

// EmergencyExit implements domain.Strategy.
func (a *Adapter) EmergencyExit() (uint64, error) {
	return a.client.EmergencyExit()
}
