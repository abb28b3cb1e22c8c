package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

const (
	exportProdID    = "-//StaySync//Private Blocks 1.0//EN"
	exportUIDDomain = "staysync.app"
)

// Exporter builds the outbound .ics feed of a unit's private reservations and
// holds/blocks, for the external provider to import. UIDs are deterministic
// per booking so re-exports are not treated as new events by the consumer.
type Exporter struct {
	unitRepo    *storage.UnitRepository
	bookingRepo *storage.BookingRepository
	loc         *time.Location
}

// NewExporter creates an outbound feed exporter.
func NewExporter(unitRepo *storage.UnitRepository, bookingRepo *storage.BookingRepository, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{unitRepo: unitRepo, bookingRepo: bookingRepo, loc: loc}
}

// BuildForUnit renders the unit's feed. With includeDetails the confirmed
// event summaries carry guest name and payout; without, they stay generic.
// from/to bound the stay window; nil from means today (ongoing stays are
// still included via the overlap rule), nil to means open-ended.
func (e *Exporter) BuildForUnit(ctx context.Context, unitID string, includeDetails bool, from, to *time.Time) (string, error) {
	unit, err := e.unitRepo.GetByID(ctx, unitID)
	if err != nil {
		return "", fmt.Errorf("getting unit: %w", err)
	}
	if unit == nil {
		return "", fmt.Errorf("unit not found: %s", unitID)
	}

	cal := e.newCalendar(unit)

	// A disabled unit still gets a valid empty calendar so the consumer's
	// subscription does not break.
	if !unit.PrivateExport {
		return cal.Serialize(), nil
	}

	windowStart := todayUTC(e.loc, time.Now().UTC())
	if from != nil {
		windowStart = dateOnly(*from)
	}
	var windowEnd *time.Time
	if to != nil {
		t := dateOnly(*to)
		windowEnd = &t
	}

	now := time.Now().UTC()

	confirmed, err := e.bookingRepo.ListPrivateForExport(ctx, unitID, windowStart, windowEnd, false)
	if err != nil {
		return "", fmt.Errorf("listing private bookings: %w", err)
	}
	for i := range confirmed {
		e.addConfirmedEvent(cal, unit, &confirmed[i], includeDetails, now)
	}

	soft, err := e.bookingRepo.ListPrivateForExport(ctx, unitID, windowStart, windowEnd, true)
	if err != nil {
		return "", fmt.Errorf("listing holds and blocks: %w", err)
	}
	for i := range soft {
		e.addSoftEvent(cal, unit, &soft[i], now)
	}

	return cal.Serialize(), nil
}

func (e *Exporter) newCalendar(unit *models.Unit) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(exportProdID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(unit.Name + " - StaySync Private Blocks")
	return cal
}

// addConfirmedEvent renders a confirmed private stay: opaque, confirmed, with
// unit/booking identifiers in X- properties.
func (e *Exporter) addConfirmedEvent(cal *ical.Calendar, unit *models.Unit, b *models.Booking, includeDetails bool, now time.Time) {
	summary := "StaySync Reservation"
	if includeDetails {
		var parts []string
		if b.GuestName != "" && b.GuestName != models.PlaceholderGuestName {
			parts = append(parts, b.GuestName)
		}
		if b.Payout > 0 {
			parts = append(parts, fmt.Sprintf("$%.2f", b.Payout))
		}
		if len(parts) > 0 {
			summary += " - " + strings.Join(parts, " / ")
		}
	}

	descParts := []string{"Unit: " + unit.Name, "Booking ID: " + b.ID}
	if b.GuestName != "" {
		descParts = append(descParts, "Guest: "+b.GuestName)
	}
	if b.Payout > 0 {
		descParts = append(descParts, fmt.Sprintf("Payout: $%.2f", b.Payout))
	}
	if b.Notes != nil && *b.Notes != "" {
		descParts = append(descParts, "Notes: "+*b.Notes)
	}

	ev := cal.AddEvent(fmt.Sprintf("staysync-private-%s@%s", b.ID, exportUIDDomain))
	e.setStayDates(ev, b, now)
	ev.SetProperty(ical.ComponentPropertySummary, escapeText(summary))
	ev.SetProperty(ical.ComponentPropertyDescription, escapeText(strings.Join(descParts, "\n")))
	ev.SetProperty(ical.ComponentProperty(xPropUnitID), unit.ID)
	ev.SetProperty(ical.ComponentProperty(xPropBookingID), b.ID)
	ev.SetProperty(ical.ComponentProperty(xPropBookingCode), b.ConfCode())
	ev.SetProperty(ical.ComponentProperty(xPropKind), "reservation")
	ev.SetStatus(ical.ObjectStatusConfirmed)
	ev.SetTimeTransparency(ical.TransparencyOpaque)
}

// addSoftEvent renders a hold or block. Holds stay tentative and opaque;
// blocks are confirmed but transparent, with the block reason as a category.
func (e *Exporter) addSoftEvent(cal *ical.Calendar, unit *models.Unit, b *models.Booking, now time.Time) {
	kind := ""
	if b.GuestType != nil && *b.GuestType != "" {
		kind = strings.ToLower(strings.TrimSpace(*b.GuestType))
	} else {
		kind = strings.ToLower(strings.TrimSpace(b.Status))
	}

	isHold := kind == "hold"
	isBlock := !isHold

	summary := "HOLD"
	if isBlock {
		summary = "BLOCKED"
		if kind != "block" && kind != "" {
			summary += " [" + strings.ToUpper(kind) + "]"
		}
	}
	if isHold && b.GuestName != "" {
		summary += ": " + b.GuestName
	}
	if isBlock && b.Notes != nil && *b.Notes != "" {
		summary += " - " + *b.Notes
	}

	descParts := []string{"Unit: " + unit.Name, "Type: " + summary}
	if b.GuestName != "" {
		descParts = append(descParts, "Guest: "+b.GuestName)
	}
	if b.Notes != nil && *b.Notes != "" {
		descParts = append(descParts, "Notes: "+*b.Notes)
	}

	ev := cal.AddEvent(fmt.Sprintf("staysync-soft-%s@%s", b.ID, exportUIDDomain))
	e.setStayDates(ev, b, now)
	ev.SetProperty(ical.ComponentPropertySummary, escapeText(summary))
	ev.SetProperty(ical.ComponentPropertyDescription, escapeText(strings.Join(descParts, "\n")))
	ev.SetProperty(ical.ComponentProperty(xPropUnitID), unit.ID)
	if isHold {
		ev.SetProperty(ical.ComponentProperty(xPropKind), "hold")
	} else {
		ev.SetProperty(ical.ComponentProperty(xPropKind), "block")
	}
	if isHold {
		ev.SetStatus(ical.ObjectStatusTentative)
		ev.SetTimeTransparency(ical.TransparencyOpaque)
	} else {
		ev.SetStatus(ical.ObjectStatusConfirmed)
		ev.SetTimeTransparency(ical.TransparencyTransparent)
	}
	ev.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(kind))
}

// setStayDates writes DTSTAMP plus TZID-qualified midnight DTSTART/DTEND,
// mirroring the provider's own export shape (exclusive DTEND at 00:00).
func (e *Exporter) setStayDates(ev *ical.VEvent, b *models.Booking, now time.Time) {
	ev.SetProperty(ical.ComponentPropertyDtstamp, now.Format("20060102T150405Z"))
	tz := &ical.KeyValues{Key: "TZID", Value: []string{e.loc.String()}}
	ev.SetProperty(ical.ComponentPropertyDtStart, b.CheckIn.Format("20060102")+"T000000", tz)
	ev.SetProperty(ical.ComponentPropertyDtEnd, b.CheckOut.Format("20060102")+"T000000", tz)
}

const xPropUnitID = "X-STAYSYNC-UNIT-ID"

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// escapeText applies RFC 5545 text escaping: backslash, comma, semicolon and
// newlines.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.NewReplacer("\r\n", `\n`, "\r", `\n`, "\n", `\n`).Replace(s)
	return s
}
