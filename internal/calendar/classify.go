// Package calendar owns feed fetching, parsing, normalization and the
// per-unit event store lifecycle, plus the outbound private-blocks feed.
package calendar

import (
	"regexp"
	"strings"

	"github.com/staysync/backend/internal/storage/models"
)

// Code shapes. Airbnb confirmation codes look like HM94CZQCEJ; private
// bookings carry PV-prefixed codes minted by the booking subsystem.
const (
	PrivateCodePrefix = "PV"
	PrivateUIDPrefix  = "pv-"
)

var (
	// Anchored shape check for a booking-side code.
	airbnbCodeRe = regexp.MustCompile(`^HM[0-9A-Z]{7,}$`)
	// In-text scan; feeds embed codes inside longer descriptions.
	airbnbCodeScanRe = regexp.MustCompile(`\bHM[0-9A-Z]{8,}\b`)
	privateCodeScanRe = regexp.MustCompile(`\bPV[A-Z0-9]{6,}\b`)
	// Feeds sometimes escape the colon in URLs (https\://...).
	reservationURLRe = regexp.MustCompile(`https?\\?://www\.airbnb\.com/hosting/reservations/details/([A-Za-z0-9]+)`)
)

// IsAirbnbCode reports whether a code has the canonical Airbnb shape.
func IsAirbnbCode(code string) bool {
	return airbnbCodeRe.MatchString(code)
}

// IsPrivateCode reports whether a code was minted by the private booking flow.
func IsPrivateCode(code string) bool {
	return strings.HasPrefix(code, PrivateCodePrefix)
}

// blockKeywords mark manual blocks in free-text summaries/descriptions.
var blockKeywords = []string{
	"staysync reservation", "block", "blocked", "owner", "owner stay",
	"manual", "private", "hold", "maintenance", "unavailable", "not available",
}

// NormalizeText unescapes common ICS escapes and flattens whitespace so the
// code/URL scans can see through folded lines.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	t := strings.NewReplacer(
		`\,`, ",",
		`\;`, ";",
		`\\`, `\`,
		`\:`, ":",
	).Replace(text)
	t = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(t)
	t = strings.ReplaceAll(t, `\n`, " ")
	t = strings.ReplaceAll(t, `\N`, " ")
	return strings.Join(strings.Fields(t), " ")
}

// ExtractReservationData pulls the provider reservation URL and code out of
// UID/DESCRIPTION/SUMMARY text, in priority order: URL match, in-text code,
// code embedded in the UID.
func ExtractReservationData(uid, description, summary string) (reservationURL, reservationCode string) {
	desc := NormalizeText(description)
	sum := NormalizeText(summary)
	haystack := desc + " " + sum

	if m := reservationURLRe.FindStringSubmatch(haystack); m != nil {
		reservationURL = m[0]
		reservationCode = m[1]
	}
	if reservationCode == "" {
		if m := airbnbCodeScanRe.FindString(haystack); m != "" {
			reservationCode = strings.ToUpper(m)
		}
	}
	if reservationCode == "" && uid != "" {
		if m := airbnbCodeScanRe.FindString(uid); m != "" {
			reservationCode = strings.ToUpper(m)
		}
	}

	return reservationURL, reservationCode
}

// ExtractPrivateCode scans normalized text for a private booking code.
func ExtractPrivateCode(text string) string {
	if m := privateCodeScanRe.FindString(text); m != "" {
		return strings.ToUpper(m)
	}
	return ""
}

// ClassifyEventType decides reservation/block/unknown for a parsed event.
// An explicit reservation code always wins; otherwise keyword markers tag
// the event as a block; anything else stays unknown.
func ClassifyEventType(normSummary, normDescription string, hasReservationCode bool) (eventType string, isBlock bool) {
	if hasReservationCode {
		return models.EventTypeReservation, false
	}
	text := strings.ToLower(normSummary + " " + normDescription)
	for _, kw := range blockKeywords {
		if strings.Contains(text, kw) {
			return models.EventTypeBlock, true
		}
	}
	return models.EventTypeUnknown, false
}
