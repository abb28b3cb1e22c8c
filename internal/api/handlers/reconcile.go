package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/reconcile"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
	ws "github.com/staysync/backend/internal/websocket"
)

// ReconcileRequest narrows a reconcile run.
type ReconcileRequest struct {
	UnitID string `json:"unit_id"`
	From   string `json:"from"` // YYYY-MM-DD
	To     string `json:"to"`   // YYYY-MM-DD
	DryRun bool   `json:"dry_run"`
}

// RunReconcile executes a reconcile pass and returns the full report.
func RunReconcile(reconciler *reconcile.Reconciler, broadcaster *ws.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReconcileRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
				return
			}
		}

		opts := reconcile.Options{UnitID: req.UnitID, DryRun: req.DryRun}
		if req.From != "" {
			t, err := parseYMD(req.From)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "from must be YYYY-MM-DD")
				return
			}
			opts.From = &t
		}
		if req.To != "" {
			t, err := parseYMD(req.To)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "to must be YYYY-MM-DD")
				return
			}
			opts.To = &t
		}

		report, err := reconciler.Reconcile(r.Context(), opts)
		if err != nil {
			log.Printf("Reconcile failed: %v", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Reconcile failed")
			return
		}

		if broadcaster != nil {
			broadcaster.BroadcastReconcileCompleted(ws.ReconcilePayload{
				Processed:          report.Processed,
				Matched:            report.Matched,
				Conflicts:          report.Conflicts,
				SuspectedCancelled: report.SuspectedCancelled,
				PlaceholdersMade:   report.PlaceholdersCreated,
				DryRun:             report.DryRun,
			})
		}

		writeJSON(w, http.StatusOK, report)
	}
}

// AlertResponse is a conflicted booking enriched with its current
// fingerprint and acknowledgement state.
type AlertResponse struct {
	Booking      models.Booking `json:"booking"`
	Fingerprint  string         `json:"fingerprint"`
	Acknowledged bool           `json:"acknowledged"`
}

// ListAlerts returns bookings needing operator attention: conflicts,
// suspected cancellations and overlap warnings, with acknowledgement state
// so already-reviewed alerts can be hidden.
func ListAlerts(bookings *storage.BookingRepository, events *storage.EventRepository, acks *storage.AckRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		from := time.Now().UTC().Truncate(24 * time.Hour)
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := parseYMD(v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "from must be YYYY-MM-DD")
				return
			}
			from = t
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		list, err := bookings.ListConflicts(ctx, from, limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query alerts")
			return
		}

		// One prefetch for all linked events instead of a query per alert.
		seen := map[string]bool{}
		var unitIDs []string
		for i := range list {
			if id := list[i].UnitID; !seen[id] {
				seen[id] = true
				unitIDs = append(unitIDs, id)
			}
		}
		eventsByUnit, err := events.ListByUnits(ctx, unitIDs)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query linked events")
			return
		}
		eventByID := map[string]*models.CalendarEvent{}
		for _, evs := range eventsByUnit {
			for i := range evs {
				eventByID[evs[i].ID] = &evs[i]
			}
		}

		alerts := make([]AlertResponse, 0, len(list))
		for i := range list {
			b := &list[i]

			var ev *models.CalendarEvent
			if b.LinkedEventID != nil {
				ev = eventByID[*b.LinkedEventID]
			}
			fp := reconcile.Fingerprint(b, b.SyncStatus, ev)

			acked, err := acks.Get(ctx, b.ID)
			if err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query acknowledgements")
				return
			}

			alerts = append(alerts, AlertResponse{
				Booking:      *b,
				Fingerprint:  fp,
				Acknowledged: acked != "" && acked == fp,
			})
		}

		writeJSON(w, http.StatusOK, alerts)
	}
}

// AckRequest carries the fingerprint the operator reviewed.
type AckRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// AckBooking records that the operator reviewed an alert at a specific
// fingerprint. The alert resurfaces if the underlying state changes, because
// the stored fingerprint then no longer matches.
func AckBooking(bookings *storage.BookingRepository, acks *storage.AckRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req AckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "fingerprint is required")
			return
		}

		b, err := bookings.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query booking")
			return
		}
		if b == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Booking not found")
			return
		}

		if err := acks.Set(r.Context(), id, req.Fingerprint); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to store acknowledgement")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "booking_id": id})
	}
}

func parseYMD(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
