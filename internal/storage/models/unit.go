// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Unit represents a rental unit whose calendar is kept in sync.
type Unit struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	City               string     `json:"city,omitempty"`
	AirbnbFeedURL      *string    `json:"airbnb_feed_url,omitempty"`
	PrivateFeedURL     *string    `json:"private_feed_url,omitempty"`
	BillingArrangement string     `json:"billing_arrangement"`
	PrivateExport      bool       `json:"private_export_enabled"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus         string     `json:"sync_status"`
	SyncError          *string    `json:"sync_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Unit sync status constants.
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// FeedSyncResult contains the outcome of syncing one unit's feeds.
type FeedSyncResult struct {
	UnitID              string    `json:"unit_id"`
	UnitName            string    `json:"unit_name"`
	EventsSeen          int       `json:"events_seen"`
	EventsUpserted      int       `json:"events_upserted"`
	BlocksSwept         int       `json:"blocks_swept"`
	ReservationsSwept   int       `json:"reservations_swept"`
	PrivateEventsMerged int       `json:"private_events_merged"`
	Unchanged           bool      `json:"unchanged"`
	Skipped             bool      `json:"skipped"`
	Error               error     `json:"-"`
	SyncedAt            time.Time `json:"synced_at"`
}

// RunSummary aggregates a multi-unit sync run, persisted as a metrics marker.
type RunSummary struct {
	LastRunAt       time.Time `json:"last_run_at"`
	LastRunAtLocal  string    `json:"last_run_at_local"`
	LocalTimezone   string    `json:"local_timezone"`
	UnitsConsidered int       `json:"units_considered"`
	EventsUpdated   int       `json:"events_updated"`
	Errors          int       `json:"errors"`
	OK              bool      `json:"ok"`
}
