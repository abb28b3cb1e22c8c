package handlers

import (
	"net/http"
	"time"

	"github.com/staysync/backend/internal/calendar"
)

// SyncStatusResponse reports the scheduler's cadence.
type SyncStatusResponse struct {
	Running   bool    `json:"running"`
	LastRunAt *string `json:"last_run_at,omitempty"`
	NextRunAt *string `json:"next_run_at,omitempty"`
}

// TriggerSync kicks off a full sync-and-reconcile cycle across all units.
// The cycle runs in the background; progress is reported over the WebSocket.
func TriggerSync(scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduler.TriggerSync()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync_started"})
	}
}

// SyncStatus reports when the scheduler last ran and when it will run next.
func SyncStatus(scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SyncStatusResponse{Running: true}
		if t := scheduler.LastRun(); t != nil {
			s := t.Format(time.RFC3339)
			resp.LastRunAt = &s
		}
		if t := scheduler.NextRun(); t != nil {
			s := t.Format(time.RFC3339)
			resp.NextRunAt = &s
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
