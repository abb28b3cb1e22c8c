// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"
	"github.com/staysync/backend/internal/api/handlers"
	"github.com/staysync/backend/internal/api/middleware"
	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/reconcile"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/websocket"
)

// Services bundles the components the router exposes over HTTP.
type Services struct {
	DB          *storage.DB
	Hub         *websocket.Hub
	Broadcaster *websocket.EventBroadcaster
	Units       *storage.UnitRepository
	Bookings    *storage.BookingRepository
	Events      *storage.EventRepository
	Acks        *storage.AckRepository
	Rates       *storage.RateRepository
	Scheduler   *calendar.Scheduler
	Exporter    *calendar.Exporter
	Reconciler  *reconcile.Reconciler
	Applier     *reconcile.Applier

	// ExportIncludeDetails is the default for the outbound feed's detail
	// level; callers can still override per request.
	ExportIncludeDetails bool
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	// Health and status
	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(s.DB, s.Hub)).Methods("GET")

	// WebSocket
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub)).Methods("GET")

	// Units
	api.HandleFunc("/units", handlers.ListUnits(s.Units)).Methods("GET")
	api.HandleFunc("/units", handlers.CreateUnit(s.Units)).Methods("POST")
	api.HandleFunc("/units/{id}", handlers.GetUnit(s.Units)).Methods("GET")
	api.HandleFunc("/units/{id}", handlers.UpdateUnit(s.Units)).Methods("PUT")
	api.HandleFunc("/units/{id}", handlers.DeleteUnit(s.Units)).Methods("DELETE")
	api.HandleFunc("/units/{id}/sync", handlers.SyncUnit(s.Units, s.Scheduler)).Methods("POST")

	// Feed sync
	api.HandleFunc("/sync", handlers.TriggerSync(s.Scheduler)).Methods("POST")
	api.HandleFunc("/sync/status", handlers.SyncStatus(s.Scheduler)).Methods("GET")

	// Reconciliation and alerts
	api.HandleFunc("/reconcile", handlers.RunReconcile(s.Reconciler, s.Broadcaster)).Methods("POST")
	api.HandleFunc("/alerts", handlers.ListAlerts(s.Bookings, s.Events, s.Acks)).Methods("GET")
	api.HandleFunc("/bookings/{id}/apply", handlers.ApplyBookingDates(s.Applier, s.Bookings, s.Broadcaster)).Methods("POST")
	api.HandleFunc("/bookings/{id}/ack", handlers.AckBooking(s.Bookings, s.Acks)).Methods("POST")

	// Rate configuration
	api.HandleFunc("/rates", handlers.ListRates(s.Rates)).Methods("GET")
	api.HandleFunc("/rates", handlers.CreateRate(s.Rates)).Methods("POST")

	// Outbound iCal export
	api.HandleFunc("/export/units/{id}.ics", handlers.ExportUnitICS(s.Exporter, s.ExportIncludeDetails)).Methods("GET")

	return r
}
