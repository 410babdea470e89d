package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/liquidation"
	"github.com/aristath/steward/internal/modules/rebalancing"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/vault"
)

// VaultHandlers exposes the vault orchestrator over HTTP.
type VaultHandlers struct {
	vault    *vault.Service
	settings *settings.Service
	log      zerolog.Logger
}

// NewVaultHandlers creates the vault HTTP handlers.
func NewVaultHandlers(vaultSvc *vault.Service, settingsSvc *settings.Service, log zerolog.Logger) *VaultHandlers {
	return &VaultHandlers{
		vault:    vaultSvc,
		settings: settingsSvc,
		log:      log.With().Str("component", "vault_handlers").Logger(),
	}
}

func (h *VaultHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors to HTTP status codes.
func (h *VaultHandlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, ledger.ErrNotRegistered),
		errors.Is(err, ledger.ErrAlreadyRegistered),
		errors.Is(err, ledger.ErrRatioOverflow),
		errors.Is(err, ledger.ErrQueueFull):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrShutdown),
		errors.Is(err, vault.ErrDepositLimit),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, liquidation.ErrInsufficientLiquidity),
		errors.Is(err, liquidation.ErrLossThresholdExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrOperationInProgress),
		errors.Is(err, rebalancing.ErrTooSoon):
		status = http.StatusConflict
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *VaultHandlers) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// HandleVaultStatus handles GET /api/vault
func (h *VaultHandlers) HandleVaultStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.vault.Status()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// HandleDeposit handles POST /api/deposit
func (h *VaultHandlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Amount uint64 `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Holder == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "holder is required"})
		return
	}

	shares, err := h.vault.Deposit(req.Holder, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holder": req.Holder,
		"amount": req.Amount,
		"shares": shares,
	})
}

// HandleWithdraw handles POST /api/withdraw
func (h *VaultHandlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Shares uint64 `json:"shares"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	value, loss, err := h.vault.Withdraw(req.Holder, req.Shares)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holder": req.Holder,
		"shares": req.Shares,
		"amount": value,
		"loss":   loss,
	})
}

// HandlePreviewWithdraw handles GET /api/withdraw/preview?amount=N
func (h *VaultHandlers) HandlePreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	result := h.vault.PreviewWithdraw(amount)
	h.writeJSON(w, http.StatusOK, result)
}

// HandleReport handles POST /api/report. The caller id comes from the
// strategy token, never from the request body.
func (h *VaultHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StrategyID  string `json:"strategy_id"`
		Gain        uint64 `json:"gain"`
		Loss        uint64 `json:"loss"`
		DebtPayment uint64 `json:"debt_payment"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	callerID := CallerStrategyID(r)
	newDebt, err := h.vault.Report(callerID, req.StrategyID, req.Gain, req.Loss, req.DebtPayment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id": req.StrategyID,
		"new_debt":    newDebt,
	})
}

// HandleHarvest handles POST /api/harvest/{id}
func (h *VaultHandlers) HandleHarvest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	newDebt, err := h.vault.Harvest(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id": id,
		"new_debt":    newDebt,
	})
}

// HandleRecentReports handles GET /api/reports?limit=N
func (h *VaultHandlers) HandleRecentReports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, err := h.vault.RecentReports(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reports == nil {
		reports = []ledger.ReportRecord{}
	}
	h.writeJSON(w, http.StatusOK, reports)
}

// HandleListStrategies handles GET /api/strategies
func (h *VaultHandlers) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.vault.Strategies())
}

// HandleRegisterStrategy handles POST /api/strategies
func (h *VaultHandlers) HandleRegisterStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string  `json:"id"`
		DebtRatioBps   uint64  `json:"debt_ratio_bps"`
		MinDebtPerOp   uint64  `json:"min_debt_per_op"`
		MaxDebtPerOp   uint64  `json:"max_debt_per_op"`
		FeeOverrideBps *uint64 `json:"fee_override_bps"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}

	// The strategy adapter is attached separately once its endpoint is
	// known; registration only creates the ledger entry.
	if err := h.vault.RegisterStrategy(req.ID, nil, req.DebtRatioBps, req.MinDebtPerOp, req.MaxDebtPerOp, req.FeeOverrideBps); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// HandleUpdateRatio handles PATCH /api/strategies/{id}/ratio
func (h *VaultHandlers) HandleUpdateRatio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		DebtRatioBps uint64 `json:"debt_ratio_bps"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vault.UpdateStrategyRatio(id, req.DebtRatioBps); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             id,
		"debt_ratio_bps": req.DebtRatioBps,
	})
}

// HandleRevokeStrategy handles DELETE /api/strategies/{id}
func (h *VaultHandlers) HandleRevokeStrategy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.vault.RevokeStrategy(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "revoked"})
}

// HandleEmergencyExit handles POST /api/strategies/{id}/emergency-exit
func (h *VaultHandlers) HandleEmergencyExit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	freed, err := h.vault.EmergencyExitStrategy(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id": id,
		"freed":       freed,
	})
}

// HandleSetQueue handles PUT /api/queue
func (h *VaultHandlers) HandleSetQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queue []string `json:"queue"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vault.SetWithdrawalQueue(req.Queue); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"queue": req.Queue})
}

// HandleSetDepositLimit handles PUT /api/deposit-limit
func (h *VaultHandlers) HandleSetDepositLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit uint64 `json:"limit"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vault.SetDepositLimit(req.Limit); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"limit": req.Limit})
}

// HandleSetShutdown handles PUT /api/shutdown
func (h *VaultHandlers) HandleSetShutdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	// Only governance may lift a shutdown; the guardian can only activate.
	if !req.Active && !roleAllows(CallerRole(r), RoleGovernance) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.vault.SetEmergencyShutdown(req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"active": req.Active})
}

// HandleSetFees handles PUT /api/fees
func (h *VaultHandlers) HandleSetFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PerformanceFeeBps uint64 `json:"performance_fee_bps"`
		ManagementFeeBps  uint64 `json:"management_fee_bps"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vault.SetFees(req.PerformanceFeeBps, req.ManagementFeeBps); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"performance_fee_bps": req.PerformanceFeeBps,
		"management_fee_bps":  req.ManagementFeeBps,
	})
}

// HandleSetDegradation handles PUT /api/degradation
func (h *VaultHandlers) HandleSetDegradation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.vault.SetLockedProfitDegradation(req.Rate); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rate": req.Rate})
}

// HandleExecuteRebalance handles POST /api/rebalance/execute
func (h *VaultHandlers) HandleExecuteRebalance(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.vault.ExecuteRebalance()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// HandleShouldRebalance handles GET /api/rebalance/should
func (h *VaultHandlers) HandleShouldRebalance(w http.ResponseWriter, r *http.Request) {
	result, err := h.vault.ShouldRebalance()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleAccrueFees handles POST /api/fees/accrue
func (h *VaultHandlers) HandleAccrueFees(w http.ResponseWriter, r *http.Request) {
	fee, err := h.vault.AccrueFees()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"fee": fee})
}

// HandleGetSettings handles GET /api/settings. Persisted rows are overlaid
// on the defaults so the response is the effective configuration.
func (h *VaultHandlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.Repository().GetAll()
	if err != nil {
		h.writeError(w, err)
		return
	}
	for key, def := range settings.SettingDefaults {
		if _, ok := all[key]; !ok {
			all[key] = def
		}
	}
	h.writeJSON(w, http.StatusOK, all)
}

// HandleSetSetting handles PUT /api/settings/{key}
func (h *VaultHandlers) HandleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.settings.Repository().Set(key, req.Value, nil); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
