package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// Unit request/response types

type UnitRequest struct {
	Name               string  `json:"name"`
	City               string  `json:"city"`
	AirbnbFeedURL      *string `json:"airbnb_feed_url"`
	PrivateFeedURL     *string `json:"private_feed_url"`
	BillingArrangement string  `json:"billing_arrangement"`
	PrivateExport      bool    `json:"private_export_enabled"`
}

// ListUnits returns all units.
func ListUnits(units *storage.UnitRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := units.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query units")
			return
		}
		if list == nil {
			list = []models.Unit{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateUnit adds a new unit.
func CreateUnit(units *storage.UnitRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UnitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.Name == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Name is required")
			return
		}

		u := models.Unit{
			Name:               req.Name,
			City:               req.City,
			AirbnbFeedURL:      req.AirbnbFeedURL,
			PrivateFeedURL:     req.PrivateFeedURL,
			BillingArrangement: req.BillingArrangement,
			PrivateExport:      req.PrivateExport,
		}
		if err := units.Create(r.Context(), &u); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create unit")
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

// GetUnit returns a single unit by ID.
func GetUnit(units *storage.UnitRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		u, err := units.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query unit")
			return
		}
		if u == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Unit not found")
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// UpdateUnit updates a unit's settings.
func UpdateUnit(units *storage.UnitRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		u, err := units.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query unit")
			return
		}
		if u == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Unit not found")
			return
		}

		var req UnitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.Name == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Name is required")
			return
		}

		u.Name = req.Name
		u.City = req.City
		u.AirbnbFeedURL = req.AirbnbFeedURL
		u.PrivateFeedURL = req.PrivateFeedURL
		if req.BillingArrangement != "" {
			u.BillingArrangement = req.BillingArrangement
		}
		u.PrivateExport = req.PrivateExport

		if err := units.Update(r.Context(), u); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to update unit")
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// DeleteUnit removes a unit.
func DeleteUnit(units *storage.UnitRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := units.Delete(r.Context(), id); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete unit")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncUnit triggers an immediate feed sync for one unit. The sync runs in
// the background; progress is reported over the WebSocket.
func SyncUnit(units *storage.UnitRepository, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		u, err := units.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query unit")
			return
		}
		if u == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Unit not found")
			return
		}

		scheduler.TriggerUnitSync(id)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync_started", "unit_id": id})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
