package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/calendar"
)

// ExportUnitICS serves a unit's private reservations and blocks as an
// iCalendar feed for the external provider to subscribe to.
func ExportUnitICS(exporter *calendar.Exporter, defaultDetails bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID := mux.Vars(r)["id"]
		q := r.URL.Query()

		includeDetails := defaultDetails
		if v := q.Get("details"); v != "" {
			includeDetails = v == "1" || v == "true"
		}

		var from, to *time.Time
		if v := q.Get("from"); v != "" {
			t, err := parseYMD(v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "from must be YYYY-MM-DD")
				return
			}
			from = &t
		}
		if v := q.Get("to"); v != "" {
			t, err := parseYMD(v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "to must be YYYY-MM-DD")
				return
			}
			to = &t
		}

		body, err := exporter.BuildForUnit(r.Context(), unitID, includeDetails, from, to)
		if err != nil {
			log.Printf("Export failed for unit %s: %v", unitID, err)
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Unit not found or export failed")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+unitID+`.ics"`)
		w.Write([]byte(body))
	}
}
