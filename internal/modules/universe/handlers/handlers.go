// Package handlers provides HTTP handlers for the security universe.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/modules/universe"
)

// Handler handles security universe HTTP requests
type Handler struct {
	securities *universe.SecurityRepository
	log        zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(securities *universe.SecurityRepository, log zerolog.Logger) *Handler {
	return &Handler{
		securities: securities,
		log:        log.With().Str("handler", "universe").Logger(),
	}
}

// HandleListSecurities handles GET /api/securities
func (h *Handler) HandleListSecurities(w http.ResponseWriter, r *http.Request) {
	securities, err := h.securities.GetAllActive()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		http.Error(w, "Failed to list securities", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"securities": securities,
			"count":      len(securities),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetSecurity handles GET /api/securities/{symbol}
func (h *Handler) HandleGetSecurity(w http.ResponseWriter, r *http.Request, symbol string) {
	security, err := h.securities.GetBySymbol(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to query security")
		http.Error(w, "Failed to query security", http.StatusInternalServerError)
		return
	}
	if security == nil {
		http.Error(w, "Security not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": security})
}

// HandleCreateSecurity handles POST /api/securities
func (h *Handler) HandleCreateSecurity(w http.ResponseWriter, r *http.Request) {
	var body universe.Security
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	existing, err := h.securities.GetBySymbol(body.Symbol)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check existing security")
		http.Error(w, "Failed to create security", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Security already exists", http.StatusConflict)
		return
	}

	security, err := h.securities.Create(body)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create security")
		http.Error(w, "Failed to create security", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": security})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
