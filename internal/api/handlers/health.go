// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	UnitsCount         int `json:"units_count"`
	UnitsWithFeed      int `json:"units_with_feed"`
	EventsCount        int `json:"events_count"`
	BookingsCount      int `json:"bookings_count"`
	ConflictedBookings int `json:"conflicted_bookings"`
	ConnectedClients   int `json:"connected_clients"`
}

// Status returns a handler that provides system status information.
func Status(db *storage.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var unitsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&unitsCount)

		var unitsWithFeed int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units WHERE airbnb_feed_url IS NOT NULL AND airbnb_feed_url != ''").Scan(&unitsWithFeed)

		var eventsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calendar_events").Scan(&eventsCount)

		var bookingsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE LOWER(status) NOT IN ('cancelled', 'canceled', 'expired')").Scan(&bookingsCount)

		var conflicted int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE sync_status IN ('conflict', 'suspected_cancelled') OR overlap_warning = 1").Scan(&conflicted)

		response := StatusResponse{
			UnitsCount:         unitsCount,
			UnitsWithFeed:      unitsWithFeed,
			EventsCount:        eventsCount,
			BookingsCount:      bookingsCount,
			ConflictedBookings: conflicted,
			ConnectedClients:   hub.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
