package models

import (
	"time"
)

// Event type constants for calendar events.
const (
	EventTypeReservation = "reservation"
	EventTypeBlock       = "block"
	EventTypeUnknown     = "unknown"
)

// CalendarEvent is a normalized entry from an external or private calendar
// feed, persisted per unit. (unit_id, uid) identifies an event; re-fetching
// updates the row in place and stamps last_seen_at for the stale sweep.
type CalendarEvent struct {
	ID              string     `json:"id"`
	UnitID          string     `json:"unit_id"`
	UID             string     `json:"uid"`
	Start           time.Time  `json:"dtstart"`
	End             time.Time  `json:"dtend"` // exclusive checkout date
	Summary         *string    `json:"summary,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Status          *string    `json:"status,omitempty"`
	EventType       string     `json:"event_type"`
	IsBlock         bool       `json:"is_block"`
	ReservationURL  *string    `json:"reservation_url,omitempty"`
	ReservationCode *string    `json:"reservation_code,omitempty"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Code returns the reservation code or "" when absent.
func (e *CalendarEvent) Code() string {
	if e.ReservationCode == nil {
		return ""
	}
	return *e.ReservationCode
}

// StartYMD returns the start date formatted as YYYY-MM-DD.
func (e *CalendarEvent) StartYMD() string {
	return e.Start.Format("2006-01-02")
}

// EndYMD returns the (exclusive) end date formatted as YYYY-MM-DD.
func (e *CalendarEvent) EndYMD() string {
	return e.End.Format("2006-01-02")
}
