// Package reconcile links internal bookings to stored calendar events,
// classifies each booking's agreement status, and applies corrected dates
// back to bookings on explicit request.
package reconcile

import (
	"strings"
	"time"

	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/storage/models"
)

// Match methods reported per booking.
const (
	MethodLinked  = "linked"
	MethodCode    = "code"
	MethodOverlap = "overlap"
	MethodNone    = "none"
)

// match is the outcome of one matcher tier.
type match struct {
	event    *models.CalendarEvent
	method   string
	adjacent bool
}

// matchContext carries everything a tier needs: the booking, its canonical
// provider code, and the unit's prefetched events.
type matchContext struct {
	booking     *models.Booking
	canonical   string // provider-shaped code, "" when the booking has none
	unitEvents  []*models.CalendarEvent
	eventByID   map[string]*models.CalendarEvent
	eventByCode map[string]*models.CalendarEvent
}

// matcher tiers run in order; the first non-nil result wins.
type matcher func(mc *matchContext) *match

var matchTiers = []matcher{matchPrelinked, matchByCode, matchByOverlap}

// matchPrelinked keeps an existing event link only while it still overlaps
// the booking and belongs to the same unit.
func matchPrelinked(mc *matchContext) *match {
	b := mc.booking
	if b.LinkedEventID == nil {
		return nil
	}
	ev := mc.eventByID[*b.LinkedEventID]
	if ev == nil || ev.UnitID != b.UnitID {
		return nil
	}
	if !datesOverlap(ev.Start, ev.End, b.CheckIn, b.CheckOut) {
		return nil
	}
	return &match{event: ev, method: MethodLinked}
}

// matchByCode resolves the booking's canonical provider code against
// same-unit reservation-type events.
func matchByCode(mc *matchContext) *match {
	if mc.canonical == "" {
		return nil
	}
	ev := mc.eventByCode[mc.canonical]
	if ev == nil {
		return nil
	}
	return &match{event: ev, method: MethodCode}
}

// matchByOverlap is the fallback for private bookings only. A booking with a
// provider-shaped code never overlap-matches: a missing code match for it is
// cancellation evidence, not ambiguity.
func matchByOverlap(mc *matchContext) *match {
	if calendar.IsAirbnbCode(mc.canonical) {
		return nil
	}
	b := mc.booking

	// Inclusive bounds: date-adjacent events must reach the handoff tier,
	// and with exclusive ends a back-to-back turnover never strictly overlaps.
	var candidates []*models.CalendarEvent
	for _, ev := range mc.unitEvents {
		if ev.Start.After(b.CheckOut) || ev.End.Before(b.CheckIn) {
			continue
		}
		if !blockish(ev) {
			continue
		}
		candidates = append(candidates, ev)
	}
	if len(candidates) == 0 {
		return nil
	}

	code := b.Code()
	if code == "" {
		code = b.ConfCode()
	}
	picked, adjacent := pickBestOverlap(candidates, b.CheckIn, b.CheckOut, code)
	if picked == nil {
		return nil
	}
	return &match{event: picked, method: MethodOverlap, adjacent: adjacent}
}

// pickBestOverlap chooses among overlapping candidates:
//  1. exact date match (provider-coded bookings tolerate DTEND or DTEND-1),
//  2. same-provenance private/blocked events for private-coded bookings,
//  3. adjacency handoff in either direction,
//  4. largest day-overlap fallback.
//
// Tiers 1, 2 and 4 only consider events that strictly overlap the booking;
// date-adjacent candidates are resolved by tier 3 or not at all.
func pickBestOverlap(events []*models.CalendarEvent, in, out time.Time, bookingCode string) (*models.CalendarEvent, bool) {
	var overlapping []*models.CalendarEvent
	for _, ev := range events {
		if datesOverlap(ev.Start, ev.End, in, out) {
			overlapping = append(overlapping, ev)
		}
	}

	for _, ev := range overlapping {
		endMatches := sameDate(ev.End, out)
		if calendar.IsAirbnbCode(bookingCode) {
			endMatches = airbnbCheckoutMatches(out, ev.End)
		}
		if sameDate(ev.Start, in) && endMatches {
			return ev, false
		}
	}

	if calendar.IsPrivateCode(bookingCode) {
		for _, ev := range overlapping {
			if calendar.IsPrivateCode(ev.Code()) || strings.EqualFold(ev.EventType, "blocked") {
				return ev, false
			}
		}
	}

	for _, ev := range events {
		if isAdjacentHandoff(in, ev) {
			return ev, true
		}
	}
	for _, ev := range events {
		if isReverseAdjacentHandoff(out, ev) {
			return ev, true
		}
	}

	var best *models.CalendarEvent
	bestDays := -1
	for _, ev := range overlapping {
		days := overlapDays(ev.Start, ev.End, in, out)
		if days > bestDays {
			bestDays = days
			best = ev
		}
	}
	if best == nil && len(overlapping) > 0 {
		best = overlapping[0]
	}
	if best == nil {
		return nil, false
	}
	return best, false
}

// blockish reports whether an event qualifies as a private/manual block for
// overlap matching purposes.
func blockish(ev *models.CalendarEvent) bool {
	if ev.IsBlock {
		return true
	}
	switch strings.ToLower(ev.EventType) {
	case "block", "blocked", "owner_block", "owner-block", "maintenance", "busy":
		return true
	}
	if calendar.IsPrivateCode(ev.Code()) {
		return true
	}
	return strings.HasPrefix(ev.UID, calendar.PrivateUIDPrefix)
}

func sameDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

// airbnbCheckoutMatches accepts the event end date or end date minus one day,
// since provider exports disagree on whether DTEND is exclusive.
func airbnbCheckoutMatches(bookingCheckOut, eventEnd time.Time) bool {
	co := bookingCheckOut.Format("2006-01-02")
	return co == eventEnd.Format("2006-01-02") ||
		co == eventEnd.AddDate(0, 0, -1).Format("2006-01-02")
}

// isAdjacentHandoff: event ends exactly when the booking begins.
func isAdjacentHandoff(bookingCheckIn time.Time, ev *models.CalendarEvent) bool {
	return sameDate(ev.End, bookingCheckIn)
}

// isReverseAdjacentHandoff: booking ends exactly when the event begins.
func isReverseAdjacentHandoff(bookingCheckOut time.Time, ev *models.CalendarEvent) bool {
	return sameDate(ev.Start, bookingCheckOut)
}

func datesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func overlapDays(evStart, evEnd, in, out time.Time) int {
	start := evStart
	if in.After(start) {
		start = in
	}
	end := evEnd
	if out.Before(end) {
		end = out
	}
	if !end.After(start) {
		return -1
	}
	return int(end.Sub(start).Hours() / 24)
}
