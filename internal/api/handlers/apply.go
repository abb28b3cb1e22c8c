package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/reconcile"
	"github.com/staysync/backend/internal/storage"
	ws "github.com/staysync/backend/internal/websocket"
)

// ApplyBookingDates writes a matched event's dates back onto the booking.
// Failure reasons come back in the body with OK=false rather than as HTTP
// errors, so the operator UI can render them inline.
func ApplyBookingDates(applier *reconcile.Applier, bookings *storage.BookingRepository, broadcaster *ws.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		result, err := applier.Apply(r.Context(), id)
		if err != nil {
			log.Printf("Apply failed for booking %s: %v", id, err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Apply failed")
			return
		}

		if broadcaster != nil && result.Updated {
			detail := "dates applied from calendar"
			if result.Action == reconcile.ActionCancelledMismatch {
				detail = "cancelled due to calendar code mismatch"
			}
			prev := ""
			if result.Before != nil {
				prev = result.Before.Status
			}
			if b, berr := bookings.GetByID(r.Context(), id); berr == nil && b != nil {
				broadcaster.BroadcastBookingSyncStatusChanged(b.ID, b.UnitID, b.GuestName, prev, b.SyncStatus, detail)
			}
		}

		status := http.StatusOK
		if !result.OK && result.Error == reconcile.ReasonNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, result)
	}
}
