package websocket

import (
	"log"

	"github.com/staysync/backend/internal/storage/models"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastFeedSyncCompleted sends a feed sync completed event.
func (b *EventBroadcaster) BroadcastFeedSyncCompleted(result models.FeedSyncResult) {
	payload := FeedSyncPayload{
		UnitID:              result.UnitID,
		UnitName:            result.UnitName,
		Status:              "success",
		EventsSeen:          result.EventsSeen,
		EventsUpserted:      result.EventsUpserted,
		BlocksSwept:         result.BlocksSwept,
		ReservationsSwept:   result.ReservationsSwept,
		PrivateEventsMerged: result.PrivateEventsMerged,
		Unchanged:           result.Unchanged,
		SyncedAt:            result.SyncedAt,
	}

	if result.Error != nil {
		payload.Status = "error"
	}

	msg := NewMessage(TypeFeedSyncCompleted, payload)
	b.broadcast(msg)
}

// BroadcastFeedSyncError sends a feed sync error event.
func (b *EventBroadcaster) BroadcastFeedSyncError(unitID, unitName string, err error) {
	payload := FeedSyncErrorPayload{
		UnitID:   unitID,
		UnitName: unitName,
		Error:    "sync_error",
		Message:  err.Error(),
	}

	msg := NewMessage(TypeFeedSyncError, payload)
	b.broadcast(msg)
}

// BroadcastReconcileCompleted sends a reconcile completed event.
func (b *EventBroadcaster) BroadcastReconcileCompleted(payload ReconcilePayload) {
	msg := NewMessage(TypeReconcileCompleted, payload)
	b.broadcast(msg)
}

// BroadcastBookingSyncStatusChanged sends a booking sync status changed event.
func (b *EventBroadcaster) BroadcastBookingSyncStatusChanged(bookingID, unitID, guestName, previousStatus, newStatus, detail string) {
	payload := BookingSyncStatusPayload{
		BookingID:      bookingID,
		UnitID:         unitID,
		GuestName:      guestName,
		PreviousStatus: previousStatus,
		NewStatus:      newStatus,
		Detail:         detail,
	}

	msg := NewMessage(TypeBookingSyncStatusChanged, payload)
	b.broadcast(msg)
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	payload := NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}

	msg := NewMessage(TypeNotification, payload)
	b.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(data)
}
