package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// RateRequest creates a new rate row for a billing arrangement.
type RateRequest struct {
	BillingArrangement string  `json:"billing_arrangement"`
	TaxRate            float64 `json:"tax_rate"`
	CommissionRate     float64 `json:"commission_rate"`
	EffectiveFrom      string  `json:"effective_from"` // YYYY-MM-DD, defaults to today
}

// ListRates returns all configured tax/commission rates.
func ListRates(rates *storage.RateRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := rates.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query rates")
			return
		}
		if list == nil {
			list = []models.UnitRate{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateRate adds a new rate row. Rates are append-only; a later
// effective_from supersedes earlier rows for the same arrangement.
func CreateRate(rates *storage.RateRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.BillingArrangement == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "billing_arrangement is required")
			return
		}
		if req.TaxRate < 0 || req.TaxRate > 1 || req.CommissionRate < 0 || req.CommissionRate > 1 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Rates must be fractions between 0 and 1")
			return
		}

		rate := models.UnitRate{
			BillingArrangement: req.BillingArrangement,
			TaxRate:            req.TaxRate,
			CommissionRate:     req.CommissionRate,
		}
		if req.EffectiveFrom != "" {
			from, err := time.ParseInLocation("2006-01-02", req.EffectiveFrom, time.UTC)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "effective_from must be YYYY-MM-DD")
				return
			}
			rate.EffectiveFrom = from
		}

		if err := rates.Create(r.Context(), &rate); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create rate")
			return
		}
		writeJSON(w, http.StatusCreated, rate)
	}
}
