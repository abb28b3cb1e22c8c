package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeFeedSyncCompleted        MessageType = "feed.sync_completed"
	TypeFeedSyncError            MessageType = "feed.sync_error"
	TypeReconcileCompleted       MessageType = "reconcile.completed"
	TypeBookingSyncStatusChanged MessageType = "booking.sync_status_changed"
	TypeNotification             MessageType = "notification"

	// Client -> Server command types
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> Client response types
	TypeSubscribeAck MessageType = "subscribe.ack"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// FeedSyncPayload is the payload for feed.sync_completed events.
type FeedSyncPayload struct {
	UnitID              string    `json:"unit_id"`
	UnitName            string    `json:"unit_name"`
	Status              string    `json:"status"`
	EventsSeen          int       `json:"events_seen"`
	EventsUpserted      int       `json:"events_upserted"`
	BlocksSwept         int       `json:"blocks_swept"`
	ReservationsSwept   int       `json:"reservations_swept"`
	PrivateEventsMerged int       `json:"private_events_merged"`
	Unchanged           bool      `json:"unchanged"`
	SyncedAt            time.Time `json:"synced_at"`
}

// FeedSyncErrorPayload is the payload for feed.sync_error events.
type FeedSyncErrorPayload struct {
	UnitID   string `json:"unit_id"`
	UnitName string `json:"unit_name"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// ReconcilePayload is the payload for reconcile.completed events.
type ReconcilePayload struct {
	Processed          int  `json:"processed"`
	Matched            int  `json:"matched"`
	Conflicts          int  `json:"conflicts"`
	SuspectedCancelled int  `json:"suspected_cancelled"`
	PlaceholdersMade   int  `json:"placeholders_created"`
	DryRun             bool `json:"dry_run"`
}

// BookingSyncStatusPayload is the payload for booking.sync_status_changed
// events.
type BookingSyncStatusPayload struct {
	BookingID      string `json:"booking_id"`
	UnitID         string `json:"unit_id"`
	GuestName      string `json:"guest_name,omitempty"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Detail         string `json:"detail,omitempty"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string              `json:"level"` // info, warning, error, success
	Title       string              `json:"title"`
	Message     string              `json:"message"`
	Action      *NotificationAction `json:"action,omitempty"`
	Dismissible bool                `json:"dismissible"`
}

// NotificationAction is an optional action button for notifications.
type NotificationAction struct {
	Type  string `json:"type"` // "link"
	Label string `json:"label"`
	URL   string `json:"url"`
}
