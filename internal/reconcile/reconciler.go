package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// Options controls one reconcile pass.
type Options struct {
	UnitID string     // limit to one unit, "" = all
	From   *time.Time // bookings with check_out >= From; nil = default window
	To     *time.Time // bookings with check_in <= To; nil = open-ended
	DryRun bool       // classify and report without writing
}

// DiffFlags marks which booking dates disagree with the linked event.
type DiffFlags struct {
	CheckIn  bool `json:"checkIn"`
	CheckOut bool `json:"checkOut"`
}

// OverlapDetail describes one cross-source overlapping event.
type OverlapDetail struct {
	EventID         string `json:"id"`
	ReservationCode string `json:"reservationCode"`
	Start           string `json:"start"`
	End             string `json:"end"`
}

// Item is the per-booking reconciliation result payload.
type Item struct {
	BookingID        string          `json:"bookingId"`
	UnitID           string          `json:"unitId"`
	UnitName         string          `json:"unitName,omitempty"`
	GuestName        string          `json:"guestName,omitempty"`
	Source           string          `json:"source"`
	ReservationCode  string          `json:"reservationCode,omitempty"`
	ConfirmationCode string          `json:"confirmationCode,omitempty"`
	CheckIn          string          `json:"checkIn"`
	CheckOut         string          `json:"checkOut"`
	LinkedEventID    string          `json:"linkedEventId,omitempty"`
	EventDtStart     string          `json:"eventDtStart,omitempty"`
	EventDtEnd       string          `json:"eventDtEnd,omitempty"`
	ProposedCheckIn  string          `json:"proposedCheckIn,omitempty"`
	ProposedCheckOut string          `json:"proposedCheckOut,omitempty"`
	Diffs            DiffFlags       `json:"diffs"`
	Status           string          `json:"status"`
	Summary          []string        `json:"summary"`
	MatchMethod      string          `json:"matchMethod"`
	Warnings         []string        `json:"warnings"`
	OverlapWarning   bool            `json:"overlapWarning"`
	OverlapDetails   []OverlapDetail `json:"overlapDetails,omitempty"`
	ReservationURL   string          `json:"reservationUrl,omitempty"`
	BookingResURL    string          `json:"bookingReservationUrl,omitempty"`
	Fingerprint      string          `json:"fingerprint"`
}

// Report aggregates one reconcile pass.
type Report struct {
	Processed           int    `json:"processed"`
	Matched             int    `json:"matched"`
	Conflicts           int    `json:"conflicts"`
	SuspectedCancelled  int    `json:"suspected_cancelled"`
	Linked              int    `json:"linked"`
	PlaceholdersCreated int    `json:"placeholders_created"`
	DryRun              bool   `json:"dry_run"`
	Items               []Item `json:"items"`
}

// Reconciler classifies bookings against stored calendar events. It never
// writes booking dates; all its mutations are sync metadata, committed in a
// single transaction at the end of a pass.
type Reconciler struct {
	db       *storage.DB
	bookings *storage.BookingRepository
	events   *storage.EventRepository
	units    *storage.UnitRepository
	rates    *storage.RateRepository

	graceDays int
	clampDays int
	now       func() time.Time
}

// NewReconciler creates a reconciler. graceDays separates "suspected
// cancelled" from "too old to flag"; clampDays bounds how far back the
// default window reaches.
func NewReconciler(
	db *storage.DB,
	bookings *storage.BookingRepository,
	events *storage.EventRepository,
	units *storage.UnitRepository,
	rates *storage.RateRepository,
	graceDays, clampDays int,
) *Reconciler {
	if graceDays <= 0 {
		graceDays = 2
	}
	if clampDays <= 0 {
		clampDays = 60
	}
	return &Reconciler{
		db:        db,
		bookings:  bookings,
		events:    events,
		units:     units,
		rates:     rates,
		graceDays: graceDays,
		clampDays: clampDays,
		now:       time.Now,
	}
}

// pendingWrite pairs a state update with the placeholder inserts so the whole
// pass commits or rolls back together.
type pendingWrite struct {
	updates      []storage.SyncStateUpdate
	placeholders []*models.Booking
}

// Reconcile runs one pass over the candidate bookings.
func (r *Reconciler) Reconcile(ctx context.Context, opts Options) (*Report, error) {
	now := r.now().UTC()
	graceCutoff := now.AddDate(0, 0, -r.graceDays)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	from, err := r.resolveWindowStart(ctx, opts, today)
	if err != nil {
		return nil, err
	}

	units, err := r.unitsInScope(ctx, opts.UnitID)
	if err != nil {
		return nil, err
	}
	unitIDs := make([]string, len(units))
	unitByID := make(map[string]*models.Unit, len(units))
	for i := range units {
		unitIDs[i] = units[i].ID
		unitByID[units[i].ID] = &units[i]
	}

	// One round trip each for events, candidates and known codes.
	eventsByUnit, err := r.events.ListByUnits(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("prefetching events: %w", err)
	}
	candidates, err := r.bookings.ListCandidates(ctx, opts.UnitID, &from, opts.To)
	if err != nil {
		return nil, fmt.Errorf("loading candidate bookings: %w", err)
	}
	codesByUnit, err := r.bookings.ListCodesByUnits(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("prefetching booking codes: %w", err)
	}

	indexes := buildUnitIndexes(eventsByUnit)

	report := &Report{DryRun: opts.DryRun, Items: make([]Item, 0, len(candidates))}
	var writes pendingWrite

	for i := range candidates {
		b := &candidates[i]
		idx := indexes[b.UnitID]
		item, update := r.classifyBooking(b, idx, unitByID[b.UnitID], graceCutoff, now)
		report.Processed++
		switch item.Status {
		case models.SyncMatched:
			report.Matched++
		case models.SyncConflict:
			report.Conflicts++
		case models.SyncSuspectedCancelled:
			report.SuspectedCancelled++
		}
		if update.LinkedEventID != nil && (b.LinkedEventID == nil || *b.LinkedEventID != *update.LinkedEventID) {
			report.Linked++
		}
		report.Items = append(report.Items, item)
		writes.updates = append(writes.updates, update)
	}

	writes.placeholders = r.collectOrphans(ctx, unitByID, eventsByUnit, codesByUnit, from)
	report.PlaceholdersCreated = len(writes.placeholders)

	if !opts.DryRun {
		if err := r.commit(ctx, writes); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// resolveWindowStart applies the default window (first day of the previous
// month) and, only for caller-omitted bounds, clamps it so feed truncation of
// old events cannot masquerade as mass cancellation.
func (r *Reconciler) resolveWindowStart(ctx context.Context, opts Options, today time.Time) (time.Time, error) {
	if opts.From != nil {
		return *opts.From, nil
	}

	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)

	clamp := today.AddDate(0, 0, -r.clampDays)
	earliest, err := r.events.EarliestStart(ctx, opts.UnitID)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding earliest event: %w", err)
	}
	if earliest != nil && earliest.After(clamp) {
		clamp = *earliest
	}
	if from.Before(clamp) {
		from = clamp
	}
	return from, nil
}

func (r *Reconciler) unitsInScope(ctx context.Context, unitID string) ([]models.Unit, error) {
	if unitID == "" {
		return r.units.List(ctx)
	}
	unit, err := r.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	if unit == nil {
		return nil, fmt.Errorf("unit not found: %s", unitID)
	}
	return []models.Unit{*unit}, nil
}

// unitIndex holds a unit's prefetched events plus lookup maps.
type unitIndex struct {
	events      []*models.CalendarEvent
	eventByID   map[string]*models.CalendarEvent
	eventByCode map[string]*models.CalendarEvent
}

func buildUnitIndexes(eventsByUnit map[string][]models.CalendarEvent) map[string]*unitIndex {
	out := make(map[string]*unitIndex, len(eventsByUnit))
	for unitID, events := range eventsByUnit {
		idx := &unitIndex{
			eventByID:   make(map[string]*models.CalendarEvent, len(events)),
			eventByCode: make(map[string]*models.CalendarEvent),
		}
		for i := range events {
			ev := &events[i]
			idx.events = append(idx.events, ev)
			idx.eventByID[ev.ID] = ev
			if code := ev.Code(); code != "" && strings.EqualFold(ev.EventType, models.EventTypeReservation) {
				if _, dup := idx.eventByCode[code]; !dup {
					idx.eventByCode[code] = ev
				}
			}
		}
		out[unitID] = idx
	}
	return out
}

// classifyBooking runs the matcher tiers and post-match classification for a
// single booking, returning both the report item and the metadata write.
func (r *Reconciler) classifyBooking(b *models.Booking, idx *unitIndex, unit *models.Unit, graceCutoff, now time.Time) (Item, storage.SyncStateUpdate) {
	if idx == nil {
		idx = &unitIndex{
			eventByID:   map[string]*models.CalendarEvent{},
			eventByCode: map[string]*models.CalendarEvent{},
		}
	}

	code := b.Code()
	conf := b.ConfCode()
	bookingHm := ""
	if calendar.IsAirbnbCode(conf) {
		bookingHm = conf
	}
	// Canonical code: explicit reservation code first, else a provider-shaped
	// confirmation code.
	canonical := code
	if canonical == "" {
		canonical = bookingHm
	}

	mc := &matchContext{
		booking:     b,
		canonical:   canonical,
		unitEvents:  idx.events,
		eventByID:   idx.eventByID,
		eventByCode: idx.eventByCode,
	}

	var m *match
	for _, tier := range matchTiers {
		if m = tier(mc); m != nil {
			break
		}
	}

	item := Item{
		BookingID:        b.ID,
		UnitID:           b.UnitID,
		GuestName:        b.GuestName,
		Source:           b.Source,
		ReservationCode:  code,
		ConfirmationCode: conf,
		CheckIn:          b.CheckInYMD(),
		CheckOut:         b.CheckOutYMD(),
		Status:           models.SyncNone,
		Summary:          []string{},
		MatchMethod:      MethodNone,
		Warnings:         []string{},
	}
	if unit != nil {
		item.UnitName = unit.Name
	}
	if canonical != "" && calendar.IsAirbnbCode(canonical) {
		item.BookingResURL = "https://www.airbnb.com/hosting/reservations/details/" + canonical
	}

	update := storage.SyncStateUpdate{
		BookingID:     b.ID,
		LinkedEventID: b.LinkedEventID,
		LastSyncAt:    now,
	}

	if m != nil {
		r.classifyWithEvent(b, m, canonical, graceCutoff, &item, &update)
	} else {
		r.classifyWithoutEvent(b, bookingHm, graceCutoff, &item)
	}
	update.SyncStatus = item.Status

	// Cross-source double-booking guard: a private booking overlapping a
	// provider reservation other than its own linked event is a true
	// double-booking even when the primary match succeeded.
	if b.Source == models.SourcePrivate {
		r.detectCrossSourceOverlap(b, m, idx, &item)
	}
	update.OverlapWarning = item.OverlapWarning

	var linkedEvent *models.CalendarEvent
	if m != nil {
		linkedEvent = m.event
	}
	item.Fingerprint = Fingerprint(b, item.Status, linkedEvent)
	return item, update
}

func (r *Reconciler) classifyWithEvent(b *models.Booking, m *match, canonical string, graceCutoff time.Time, item *Item, update *storage.SyncStateUpdate) {
	ev := m.event
	update.LinkedEventID = &ev.ID
	update.StampUpdatedAt = m.method == MethodOverlap

	handoff := m.adjacent || isAdjacentHandoff(b.CheckIn, ev) || isReverseAdjacentHandoff(b.CheckOut, ev)

	sameIn := sameDate(b.CheckIn, ev.Start)
	var sameOut bool
	if calendar.IsAirbnbCode(canonical) || b.Source == models.SourceAirbnb {
		sameOut = airbnbCheckoutMatches(b.CheckOut, ev.End)
	} else {
		sameOut = sameDate(b.CheckOut, ev.End)
	}

	evCode := ev.Code()
	suppressDateSummary := false

	// A booking sitting back-to-back with its matched event is a turnover
	// handoff, not a conflict; date judgment overrides the code-identity
	// suspicion for these.
	handoffOverride := (!sameIn || !sameOut) && handoff

	switch {
	case b.Source == models.SourceAirbnb && canonical != "" && evCode != "" && canonical != evCode:
		// Provider-side code churn.
		if handoff {
			item.Status = models.SyncMatched
			suppressDateSummary = true
		} else if !b.CheckOut.Before(graceCutoff) {
			item.Status = models.SyncSuspectedCancelled
			item.Summary = []string{fmt.Sprintf(
				"Airbnb: booking code %s not present in iCal; overlapping event shows %s - likely cancelled.",
				canonical, evCode)}
			suppressDateSummary = true
		} else if !sameIn || !sameOut {
			// Settled history: plain date comparison, no suspicion flag.
			item.Status = models.SyncConflict
		} else {
			item.Status = models.SyncMatched
		}
	case (!sameIn || !sameOut) && !handoffOverride:
		item.Status = models.SyncConflict
	default:
		item.Status = models.SyncMatched
		if handoffOverride {
			suppressDateSummary = true
		}
	}

	item.LinkedEventID = ev.ID
	item.EventDtStart = ev.StartYMD()
	item.EventDtEnd = ev.EndYMD()
	item.ProposedCheckIn = ev.StartYMD()
	item.ProposedCheckOut = ev.EndYMD()
	if ev.ReservationURL != nil {
		item.ReservationURL = *ev.ReservationURL
	}

	if !handoffOverride {
		item.Diffs = DiffFlags{CheckIn: !sameIn, CheckOut: !sameOut}
	}
	if !suppressDateSummary {
		if item.Diffs.CheckIn {
			item.Summary = append(item.Summary, "iCal changed check-in -> "+ev.StartYMD())
		}
		if item.Diffs.CheckOut {
			item.Summary = append(item.Summary, "iCal changed check-out -> "+ev.EndYMD())
		}
	}

	item.MatchMethod = m.method
	if canonical != "" && evCode == canonical {
		item.MatchMethod = MethodCode
	} else if m.method == MethodOverlap && evCode != "" && !handoff {
		if canonical == "" {
			item.Warnings = append(item.Warnings,
				fmt.Sprintf("Airbnb: event has code %s but booking has no provider code", evCode))
		} else if canonical != evCode {
			item.Warnings = append(item.Warnings,
				fmt.Sprintf("Airbnb: event code %s differs from booking code %s", evCode, canonical))
		}
	}
}

func (r *Reconciler) classifyWithoutEvent(b *models.Booking, bookingHm string, graceCutoff time.Time, item *Item) {
	if b.Source != models.SourceAirbnb || bookingHm == "" {
		return
	}
	if !b.CheckOut.Before(graceCutoff) {
		item.Status = models.SyncSuspectedCancelled
		item.Summary = append(item.Summary,
			fmt.Sprintf("Airbnb: booking code %s not found in iCal - likely cancelled.", bookingHm))
	} else {
		// Aged-out history defaults to matched to avoid perpetual noise.
		item.Status = models.SyncMatched
	}
}

func (r *Reconciler) detectCrossSourceOverlap(b *models.Booking, m *match, idx *unitIndex, item *Item) {
	if idx == nil {
		return
	}
	linkedID := ""
	if m != nil {
		linkedID = m.event.ID
	}

	var overlapping []*models.CalendarEvent
	for _, ev := range idx.events {
		if !strings.EqualFold(ev.EventType, models.EventTypeReservation) {
			continue
		}
		if !calendar.IsAirbnbCode(ev.Code()) {
			continue
		}
		if ev.ID == linkedID {
			continue
		}
		if datesOverlap(ev.Start, ev.End, b.CheckIn, b.CheckOut) {
			overlapping = append(overlapping, ev)
		}
	}
	if len(overlapping) == 0 {
		return
	}

	item.OverlapWarning = true
	for _, ev := range overlapping {
		if len(item.OverlapDetails) == 3 {
			break
		}
		item.OverlapDetails = append(item.OverlapDetails, OverlapDetail{
			EventID:         ev.ID,
			ReservationCode: ev.Code(),
			Start:           ev.StartYMD(),
			End:             ev.EndYMD(),
		})
	}

	primary := overlapping[0]
	label := primary.Code()
	if label == "" {
		label = "event " + primary.ID
	}
	item.Summary = append(item.Summary, fmt.Sprintf(
		"Calendar double-booked: overlaps Airbnb reservation %s (%s to %s).",
		label, primary.StartYMD(), primary.EndYMD()))
}

// collectOrphans finds reservation-type events with a valid provider code
// that no booking backs, within the reconcile window, and synthesizes
// placeholder bookings for them. Failures here degrade gracefully.
func (r *Reconciler) collectOrphans(
	ctx context.Context,
	unitByID map[string]*models.Unit,
	eventsByUnit map[string][]models.CalendarEvent,
	codesByUnit map[string]map[string]bool,
	from time.Time,
) []*models.Booking {
	var out []*models.Booking
	for unitID, events := range eventsByUnit {
		unit := unitByID[unitID]
		known := codesByUnit[unitID]
		if known == nil {
			known = map[string]bool{}
			codesByUnit[unitID] = known
		}
		for i := range events {
			ev := &events[i]
			if !strings.EqualFold(ev.EventType, models.EventTypeReservation) {
				continue
			}
			code := ev.Code()
			if !calendar.IsAirbnbCode(code) {
				continue
			}
			// Events entirely before the window are settled history.
			if ev.End.Before(from) {
				continue
			}
			if known[code] {
				continue
			}
			placeholder := buildPlaceholder(ctx, r.rates, unit, ev)
			if placeholder == nil {
				continue
			}
			known[code] = true
			out = append(out, placeholder)
		}
	}
	return out
}

func (r *Reconciler) commit(ctx context.Context, writes pendingWrite) error {
	return r.db.Transaction(func(tx *sql.Tx) error {
		for _, u := range writes.updates {
			if err := r.bookings.ApplySyncState(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, p := range writes.placeholders {
			if err := r.bookings.CreateIn(ctx, tx, p); err != nil {
				log.Printf("Failed to create placeholder for event %s: %v", *p.LinkedEventID, err)
				continue
			}
		}
		return nil
	})
}
