package calendar

import (
	"bytes"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ParsedEvent is a normalized VEVENT. Start/End are stored as date-only
// values at UTC midnight; End is exclusive (the checkout/turnover day).
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Status      string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// X-STAYSYNC-* properties from the private feed.
	XBookingID   string
	XBookingCode string
	XKind        string
}

const (
	xPropBookingID   = "X-STAYSYNC-BOOKING-ID"
	xPropBookingCode = "X-STAYSYNC-BOOKING-CODE"
	xPropKind        = "X-STAYSYNC-KIND"
)

// Parser turns feed bodies into ParsedEvents, normalizing stay dates into a
// single reference timezone so overlapping logic never has to think about
// zones again.
type Parser struct {
	loc *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// Parse reads one iCalendar payload. VEVENTs without a usable UID or start
// date are skipped rather than failing the whole feed; a body with no
// calendar structure at all is a *ParseError.
func (p *Parser) Parse(url string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, &ParseError{URL: RedactURL(url), Reason: "empty body"}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: RedactURL(url), Reason: "invalid ics", Err: err}
	}

	out := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, ok := p.parseVEvent(ve)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		// Providers serve truncated or empty bodies during outages. Treating
		// that as success would let the sweep erase every stored event.
		return nil, &ParseError{URL: RedactURL(url), Reason: "no events"}
	}
	return out, nil
}

func (p *Parser) parseVEvent(ve *ical.VEvent) (ParsedEvent, bool) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, false
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil {
		out.Summary = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyDescription); prop != nil {
		out.Description = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyStatus); prop != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(prop.Value))
	}

	start, startOK := p.resolveDate(ve, ical.ComponentPropertyDtStart)
	if !startOK {
		return out, false
	}
	end, endOK := p.resolveDate(ve, ical.ComponentPropertyDtEnd)
	if !endOK {
		// DTEND is optional for all-day events; a missing one means a
		// single-night stay.
		end = start.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	out.Start = start
	out.End = end
	out.AllDay = isAllDay(ve)

	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		out.RawRRule = prop.Value
	}
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := p.parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if prop := ve.GetProperty(ical.ComponentProperty(xPropBookingID)); prop != nil {
		out.XBookingID = strings.TrimSpace(prop.Value)
	}
	if prop := ve.GetProperty(ical.ComponentProperty(xPropBookingCode)); prop != nil {
		out.XBookingCode = strings.ToUpper(strings.TrimSpace(prop.Value))
	}
	if prop := ve.GetProperty(ical.ComponentProperty(xPropKind)); prop != nil {
		out.XKind = strings.ToLower(strings.TrimSpace(prop.Value))
	}

	return out, true
}

// resolveDate reads a DTSTART/DTEND property and collapses it to a date at
// UTC midnight, interpreting timed values in the property's TZID (or the
// reference timezone when none is declared).
func (p *Parser) resolveDate(ve *ical.VEvent, name ical.ComponentProperty) (time.Time, bool) {
	prop := ve.GetProperty(name)
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return time.Time{}, false
	}

	loc := p.loc
	if params := prop.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
	}

	t, err := parseICSTimeIn(strings.TrimSpace(prop.Value), loc)
	if err != nil {
		return time.Time{}, false
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), true
}

func (p *Parser) parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, p.loc)
}

func parseICSTimeIn(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func isAllDay(ve *ical.VEvent) bool {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if params := prop.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(prop.Value, "T")
}
