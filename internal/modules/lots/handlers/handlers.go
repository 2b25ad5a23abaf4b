// Package handlers provides HTTP handlers for lot ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/lots"
)

// Handler handles lot ledger HTTP requests
type Handler struct {
	svc *lots.LedgerService
	log zerolog.Logger
}

// NewHandler creates a new lots handler
func NewHandler(svc *lots.LedgerService, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With().Str("handler", "lots").Logger(),
	}
}

// lotPayload is the optional-field request body shared by create and update.
type lotPayload struct {
	AccountID        string           `json:"account_id"`
	Symbol           string           `json:"symbol"`
	AcquiredAt       *time.Time       `json:"acquired_at"`
	CostBasisPerUnit *decimal.Decimal `json:"cost_basis_per_unit"`
	Quantity         *decimal.Decimal `json:"quantity"`
	ActivityID       string           `json:"activity_id"`
}

// HandleListLots handles GET /api/lots
func (h *Handler) HandleListLots(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}
	includeClosed := r.URL.Query().Get("include_closed") == "true"

	var (
		result []domain.Lot
		err    error
	)
	if securityID := r.URL.Query().Get("security_id"); securityID != "" {
		result, err = h.svc.LotsForSecurity(accountID, securityID, includeClosed)
	} else {
		result, err = h.svc.LotsForAccount(accountID, includeClosed)
	}
	if err != nil {
		h.writeError(w, err, "Failed to list lots")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"lots":  result,
			"count": len(result),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleCreateLot handles POST /api/lots
func (h *Handler) HandleCreateLot(w http.ResponseWriter, r *http.Request) {
	var body lotPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.AccountID == "" || body.Symbol == "" || body.CostBasisPerUnit == nil || body.Quantity == nil {
		http.Error(w, "account_id, symbol, cost_basis_per_unit and quantity are required", http.StatusBadRequest)
		return
	}

	var (
		lot domain.Lot
		err error
	)
	if body.ActivityID != "" {
		lot, err = h.svc.RecordActivityLot(lots.RecordActivityLotParams{
			AccountID:        body.AccountID,
			Symbol:           body.Symbol,
			AcquiredAt:       body.AcquiredAt,
			CostBasisPerUnit: *body.CostBasisPerUnit,
			Quantity:         *body.Quantity,
			ActivityID:       body.ActivityID,
		})
	} else {
		lot, err = h.svc.CreateLot(lots.CreateLotParams{
			AccountID:        body.AccountID,
			Symbol:           body.Symbol,
			AcquiredAt:       body.AcquiredAt,
			CostBasisPerUnit: *body.CostBasisPerUnit,
			Quantity:         *body.Quantity,
		})
	}
	if err != nil {
		h.writeError(w, err, "Failed to create lot")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": lot})
}

// HandleUpdateLot handles PATCH /api/lots/{id}
func (h *Handler) HandleUpdateLot(w http.ResponseWriter, r *http.Request, lotID string) {
	var body lotPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	lot, err := h.svc.UpdateLot(lotID, lots.UpdateLotParams{
		AcquiredAt:       body.AcquiredAt,
		CostBasisPerUnit: body.CostBasisPerUnit,
		Quantity:         body.Quantity,
	})
	if err != nil {
		h.writeError(w, err, "Failed to update lot")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": lot})
}

// HandleDeleteLot handles DELETE /api/lots/{id}
func (h *Handler) HandleDeleteLot(w http.ResponseWriter, r *http.Request, lotID string) {
	if err := h.svc.DeleteLot(lotID); err != nil {
		h.writeError(w, err, "Failed to delete lot")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"deleted": lotID},
	})
}

type batchRequest struct {
	AccountID  string `json:"account_id"`
	SecurityID string `json:"security_id"`
	Updates    []struct {
		LotID            string           `json:"lot_id"`
		AcquiredAt       *time.Time       `json:"acquired_at"`
		CostBasisPerUnit *decimal.Decimal `json:"cost_basis_per_unit"`
		Quantity         *decimal.Decimal `json:"quantity"`
	} `json:"updates"`
	Creates []struct {
		AcquiredAt       *time.Time      `json:"acquired_at"`
		CostBasisPerUnit decimal.Decimal `json:"cost_basis_per_unit"`
		Quantity         decimal.Decimal `json:"quantity"`
	} `json:"creates"`
}

// HandleApplyBatch handles POST /api/lots/batch
func (h *Handler) HandleApplyBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.AccountID == "" || body.SecurityID == "" {
		http.Error(w, "account_id and security_id are required", http.StatusBadRequest)
		return
	}

	updates := make([]lots.BatchUpdate, 0, len(body.Updates))
	for _, u := range body.Updates {
		updates = append(updates, lots.BatchUpdate{
			LotID: u.LotID,
			UpdateLotParams: lots.UpdateLotParams{
				AcquiredAt:       u.AcquiredAt,
				CostBasisPerUnit: u.CostBasisPerUnit,
				Quantity:         u.Quantity,
			},
		})
	}
	creates := make([]lots.BatchCreate, 0, len(body.Creates))
	for _, c := range body.Creates {
		creates = append(creates, lots.BatchCreate{
			AcquiredAt:       c.AcquiredAt,
			CostBasisPerUnit: c.CostBasisPerUnit,
			Quantity:         c.Quantity,
		})
	}

	result, err := h.svc.ApplyBatch(body.AccountID, body.SecurityID, updates, creates)
	if err != nil {
		h.writeError(w, err, "Failed to apply lot batch")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"lots":  result,
			"count": len(result),
		},
	})
}

type disposalRequest struct {
	AccountID       string          `json:"account_id"`
	SecurityID      string          `json:"security_id"`
	DisposedAt      *time.Time      `json:"disposed_at"`
	ProceedsPerUnit decimal.Decimal `json:"proceeds_per_unit"`
	Source          string          `json:"source"`
	ActivityID      string          `json:"activity_id"`
	Legs            []struct {
		LotID    string          `json:"lot_id"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"legs"`
}

// HandleRecordDisposals handles POST /api/lots/disposals
func (h *Handler) HandleRecordDisposals(w http.ResponseWriter, r *http.Request) {
	var body disposalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.AccountID == "" || body.SecurityID == "" || len(body.Legs) == 0 {
		http.Error(w, "account_id, security_id and legs are required", http.StatusBadRequest)
		return
	}

	source := domain.LotSource(body.Source)
	if body.Source == "" {
		source = domain.SourceManual
	}

	legs := make([]lots.DisposalLeg, 0, len(body.Legs))
	for _, leg := range body.Legs {
		legs = append(legs, lots.DisposalLeg{LotID: leg.LotID, Quantity: leg.Quantity})
	}

	created, err := h.svc.RecordDisposalGroup(lots.RecordDisposalGroupParams{
		AccountID:       body.AccountID,
		SecurityID:      body.SecurityID,
		DisposedAt:      body.DisposedAt,
		ProceedsPerUnit: body.ProceedsPerUnit,
		Source:          source,
		ActivityID:      body.ActivityID,
		Legs:            legs,
	})
	if err != nil {
		h.writeError(w, err, "Failed to record disposal group")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"disposals": created,
			"group_id":  created[0].GroupID,
		},
	})
}

type reassignRequest struct {
	AccountID   string `json:"account_id"`
	Assignments []struct {
		LotID    string          `json:"lot_id"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"assignments"`
}

// HandleReassignDisposals handles POST /api/lots/disposals/{groupID}/reassign
func (h *Handler) HandleReassignDisposals(w http.ResponseWriter, r *http.Request, groupID string) {
	var body reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.AccountID == "" || len(body.Assignments) == 0 {
		http.Error(w, "account_id and assignments are required", http.StatusBadRequest)
		return
	}

	assignments := make([]lots.Assignment, 0, len(body.Assignments))
	for _, a := range body.Assignments {
		assignments = append(assignments, lots.Assignment{LotID: a.LotID, Quantity: a.Quantity})
	}

	created, err := h.svc.ReassignDisposals(body.AccountID, groupID, assignments)
	if err != nil {
		h.writeError(w, err, "Failed to reassign disposal group")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"disposals": created,
			"group_id":  created[0].GroupID,
		},
	})
}

// HandleGetSummary handles GET /api/lots/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	securityID := r.URL.Query().Get("security_id")
	if accountID == "" || securityID == "" {
		http.Error(w, "account_id and security_id are required", http.StatusBadRequest)
		return
	}

	opts := lots.SummaryOptions{}
	if priceStr := r.URL.Query().Get("market_price"); priceStr != "" {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			http.Error(w, "Invalid market_price", http.StatusBadRequest)
			return
		}
		opts.MarketPrice = &price
	}
	if qtyStr := r.URL.Query().Get("holding_quantity"); qtyStr != "" {
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			http.Error(w, "Invalid holding_quantity", http.StatusBadRequest)
			return
		}
		opts.TotalHoldingQuantity = &qty
	}

	summary, err := h.svc.LotSummary(accountID, securityID, opts)
	if err != nil {
		h.writeError(w, err, "Failed to compute lot summary")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": summary,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetSummaries handles GET /api/lots/summaries
func (h *Handler) HandleGetSummaries(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	summaries, err := h.svc.LotSummariesForAccount(accountID, nil, nil)
	if err != nil {
		h.writeError(w, err, "Failed to compute lot summaries")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"summaries": summaries,
			"count":     len(summaries),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeError maps domain error categories onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrUnknownSecurity):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrImmutable):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrQuantityMismatch),
		errors.Is(err, domain.ErrOwnershipMismatch):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	} else {
		h.log.Warn().Err(err).Msg(msg)
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
