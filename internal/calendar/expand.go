package calendar

import (
	"fmt"
	"log"
	"time"

	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 366

// ExpandRecurrences replaces RRULE-bearing events with one concrete event per
// occurrence inside [rangeStart, rangeEnd). Occurrence UIDs get a date suffix
// so each occupies its own row in the event store. Events without an RRULE
// pass through untouched.
func ExpandRecurrences(events []ParsedEvent, rangeStart, rangeEnd time.Time) []ParsedEvent {
	out := make([]ParsedEvent, 0, len(events))
	for _, ev := range events {
		if ev.RawRRule == "" {
			out = append(out, ev)
			continue
		}
		out = append(out, expandOne(ev, rangeStart, rangeEnd)...)
	}
	return out
}

func expandOne(ev ParsedEvent, rangeStart, rangeEnd time.Time) []ParsedEvent {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Printf("Recurrence rule unparseable for %s, keeping base event: %v", ev.UID, err)
		base := ev
		base.RawRRule = ""
		return []ParsedEvent{base}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > maxOccurrencesPerEvent {
		log.Printf("Recurrence for %s truncated at %d occurrences", ev.UID, maxOccurrencesPerEvent)
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	duration := ev.End.Sub(ev.Start)
	if duration <= 0 {
		duration = 24 * time.Hour
	}

	out := make([]ParsedEvent, 0, len(occTimes))
	for _, start := range occTimes {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		occ := ev
		occ.RawRRule = ""
		occ.ExDates = nil
		occ.UID = fmt.Sprintf("%s-%s", ev.UID, day.Format("20060102"))
		occ.Start = day
		occ.End = day.Add(duration)
		out = append(out, occ)
	}
	return out
}
