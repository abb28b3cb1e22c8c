package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/staysync/backend/internal/storage/models"
)

// Fingerprint builds a stable hash over a booking and its (optional) linked
// event, computed after classification so it captures the outcome. A reviewer
// acknowledges a specific fingerprint; any later change to the underlying
// state invalidates the acknowledgement.
func Fingerprint(b *models.Booking, status string, e *models.CalendarEvent) string {
	eventUID, eventStart, eventEnd, eventCode := "", "", "", ""
	if e != nil {
		eventUID = e.UID
		eventStart = e.StartYMD()
		eventEnd = e.EndYMD()
		eventCode = e.Code()
	}

	parts := strings.Join([]string{
		"bid=" + b.ID,
		"rc=" + b.Code(),
		"cc=" + b.ConfCode(),
		"st=" + status,
		"in=" + b.CheckInYMD(),
		"out=" + b.CheckOutYMD(),
		"euid=" + eventUID,
		"es=" + eventStart,
		"ee=" + eventEnd,
		"erc=" + eventCode,
	}, "|")

	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])
}
