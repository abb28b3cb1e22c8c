package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// SyncService pulls each unit's inbound feeds into the calendar_events store.
// A unit sync is fetch, window replace, private merge, then the two stale
// sweeps, all against a run-start timestamp so only rows this run did not
// re-stamp are eligible for sweeping.
type SyncService struct {
	db        *storage.DB
	unitRepo  *storage.UnitRepository
	eventRepo *storage.EventRepository
	fetcher   *Fetcher
	parser    *Parser
	loc       *time.Location

	markerPath  string
	maxParallel int
}

// NewSyncService creates a feed sync service. markerPath is where the
// last-run metrics marker is written ("" disables it).
func NewSyncService(
	db *storage.DB,
	unitRepo *storage.UnitRepository,
	eventRepo *storage.EventRepository,
	fetchTimeout time.Duration,
	loc *time.Location,
	markerPath string,
	maxParallel int,
) *SyncService {
	if loc == nil {
		loc = time.UTC
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &SyncService{
		db:          db,
		unitRepo:    unitRepo,
		eventRepo:   eventRepo,
		fetcher:     NewFetcher(fetchTimeout),
		parser:      NewParser(loc),
		loc:         loc,
		markerPath:  markerPath,
		maxParallel: maxParallel,
	}
}

// SyncUnit synchronizes one unit's feeds and returns the result.
func (s *SyncService) SyncUnit(ctx context.Context, unitID string) (*models.FeedSyncResult, error) {
	unit, err := s.unitRepo.GetByID(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	if unit == nil {
		return nil, fmt.Errorf("unit not found: %s", unitID)
	}
	return s.syncUnit(ctx, unit)
}

func (s *SyncService) syncUnit(ctx context.Context, unit *models.Unit) (*models.FeedSyncResult, error) {
	result := &models.FeedSyncResult{
		UnitID:   unit.ID,
		UnitName: unit.Name,
		SyncedAt: time.Now().UTC(),
	}

	feedURL := ""
	if unit.AirbnbFeedURL != nil {
		feedURL = strings.TrimSpace(*unit.AirbnbFeedURL)
	}
	if feedURL == "" {
		result.Skipped = true
		return result, nil
	}

	runStartedAt := time.Now().UTC()
	today := todayUTC(s.loc, runStartedAt)

	if err := s.unitRepo.UpdateSyncStatus(ctx, unit.ID, models.SyncStatusSyncing, nil); err != nil {
		log.Printf("Failed to update sync status for %s: %v", unit.ID, err)
	}

	body, err := s.fetcher.Fetch(ctx, feedURL)
	unchanged := errors.Is(err, ErrNotModified)
	if err != nil && !unchanged {
		errMsg := err.Error()
		s.unitRepo.UpdateSyncStatus(ctx, unit.ID, models.SyncStatusError, &errMsg)
		result.Error = err
		return result, err
	}
	result.Unchanged = unchanged

	var events []models.CalendarEvent
	if !unchanged {
		parsed, perr := s.parser.Parse(feedURL, body)
		if perr != nil {
			errMsg := perr.Error()
			s.unitRepo.UpdateSyncStatus(ctx, unit.ID, models.SyncStatusError, &errMsg)
			result.Error = perr
			return result, perr
		}
		events = s.normalizeFeedEvents(unit.ID, parsed, runStartedAt)
		result.EventsSeen = len(events)
	}

	// Private feed contents merge on top of the provider feed. Failures here
	// must never block the provider sync, so they only log.
	var privateEvents []models.CalendarEvent
	privateFeedOK := true
	if unit.PrivateFeedURL != nil && strings.TrimSpace(*unit.PrivateFeedURL) != "" {
		privateEvents, privateFeedOK = s.loadPrivateFeed(ctx, unit, today, runStartedAt)
	}

	err = s.db.Transaction(func(tx *sql.Tx) error {
		if !unchanged && len(events) > 0 {
			min, max := eventWindow(events)
			if _, werr := s.eventRepo.DeleteWithinWindow(ctx, tx, unit.ID, min, max); werr != nil {
				return fmt.Errorf("window replace: %w", werr)
			}
			for i := range events {
				if uerr := s.eventRepo.Upsert(ctx, tx, &events[i]); uerr != nil {
					return fmt.Errorf("upserting event %s: %w", events[i].UID, uerr)
				}
				result.EventsUpserted++
			}
		}

		for i := range privateEvents {
			if uerr := s.eventRepo.Upsert(ctx, tx, &privateEvents[i]); uerr != nil {
				log.Printf("Failed to merge private event %s for %s: %v", privateEvents[i].UID, unit.ID, uerr)
				continue
			}
			result.PrivateEventsMerged++
		}

		// Sweeps only run against a feed that was actually re-read this
		// cycle: an unchanged (304) provider feed re-stamped nothing, and a
		// failed private feed would have its blocks wrongly culled.
		if !unchanged && len(events) > 0 {
			if privateFeedOK {
				n, serr := s.eventRepo.SweepUnseenBlocks(ctx, tx, unit.ID, today, runStartedAt)
				if serr != nil {
					return fmt.Errorf("sweeping blocks: %w", serr)
				}
				result.BlocksSwept = int(n)
			}
			n, serr := s.eventRepo.SweepUnseenReservations(ctx, tx, unit.ID, today, runStartedAt, PrivateCodePrefix)
			if serr != nil {
				return fmt.Errorf("sweeping reservations: %w", serr)
			}
			result.ReservationsSwept = int(n)
		}
		return nil
	})
	if err != nil {
		errMsg := err.Error()
		s.unitRepo.UpdateSyncStatus(ctx, unit.ID, models.SyncStatusError, &errMsg)
		result.Error = err
		return result, err
	}

	if err := s.unitRepo.UpdateSyncStatus(ctx, unit.ID, models.SyncStatusSuccess, nil); err != nil {
		log.Printf("Failed to update sync status for %s: %v", unit.ID, err)
	}
	return result, nil
}

// normalizeFeedEvents classifies parsed provider events into storable rows.
// Cancelled VEVENTs are dropped; the sweep removes their stored rows.
func (s *SyncService) normalizeFeedEvents(unitID string, parsed []ParsedEvent, seenAt time.Time) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(parsed))
	for _, pe := range parsed {
		if pe.Status == "CANCELLED" {
			continue
		}
		resURL, resCode := ExtractReservationData(pe.UID, pe.Description, pe.Summary)
		eventType, isBlock := ClassifyEventType(NormalizeText(pe.Summary), NormalizeText(pe.Description), resCode != "")
		out = append(out, s.buildEvent(unitID, pe, eventType, isBlock, resURL, resCode, seenAt))
	}
	return out
}

// loadPrivateFeed fetches and normalizes the unit's private feed. The second
// return reports whether the feed could be read at all; callers use it to
// decide whether block sweeping is safe.
func (s *SyncService) loadPrivateFeed(ctx context.Context, unit *models.Unit, today, seenAt time.Time) ([]models.CalendarEvent, bool) {
	url := strings.TrimSpace(*unit.PrivateFeedURL)

	body, err := s.fetcher.Fetch(ctx, url)
	if errors.Is(err, ErrNotModified) {
		return nil, false
	}
	if err != nil {
		log.Printf("Private feed fetch failed for %s: %v", unit.ID, err)
		return nil, false
	}

	parsed, err := s.parser.Parse(url, body)
	if err != nil {
		log.Printf("Private feed parse failed for %s: %v", unit.ID, err)
		return nil, false
	}

	parsed = ExpandRecurrences(parsed, today.AddDate(0, -2, 0), today.AddDate(2, 0, 0))

	out := make([]models.CalendarEvent, 0, len(parsed))
	for _, pe := range parsed {
		if pe.Status == "CANCELLED" {
			continue
		}
		eventType, isBlock, resCode := classifyPrivateEvent(pe)
		out = append(out, s.buildEvent(unit.ID, pe, eventType, isBlock, "", resCode, seenAt))
	}
	return out, true
}

// classifyPrivateEvent prefers the feed's own X- properties over text
// heuristics.
func classifyPrivateEvent(pe ParsedEvent) (eventType string, isBlock bool, resCode string) {
	switch pe.XKind {
	case "block":
		return models.EventTypeBlock, true, ""
	case "booking", "reservation", "hold":
		code := pe.XBookingCode
		if code == "" {
			code = ExtractPrivateCode(NormalizeText(pe.Summary) + " " + NormalizeText(pe.Description))
		}
		return models.EventTypeReservation, false, code
	}
	if code := ExtractPrivateCode(NormalizeText(pe.Summary) + " " + NormalizeText(pe.Description)); code != "" {
		return models.EventTypeReservation, false, code
	}
	eventType, isBlock = ClassifyEventType(NormalizeText(pe.Summary), NormalizeText(pe.Description), false)
	return eventType, isBlock, ""
}

func (s *SyncService) buildEvent(unitID string, pe ParsedEvent, eventType string, isBlock bool, resURL, resCode string, seenAt time.Time) models.CalendarEvent {
	e := models.CalendarEvent{
		UnitID:     unitID,
		UID:        pe.UID,
		Start:      pe.Start,
		End:        pe.End,
		EventType:  eventType,
		IsBlock:    isBlock,
		LastSeenAt: seenAt,
	}
	if sum := NormalizeText(pe.Summary); sum != "" {
		e.Summary = &sum
	}
	if desc := NormalizeText(pe.Description); desc != "" {
		e.Description = &desc
	}
	if pe.Status != "" {
		status := pe.Status
		e.Status = &status
	}
	if resURL != "" {
		e.ReservationURL = &resURL
	}
	if resCode != "" {
		code := strings.ToUpper(resCode)
		e.ReservationCode = &code
	}
	return e
}

// SyncAllUnits synchronizes every unit that has a feed URL, a few at a time.
// One unit failing never stops the others.
func (s *SyncService) SyncAllUnits(ctx context.Context) ([]models.FeedSyncResult, *models.RunSummary, error) {
	units, err := s.unitRepo.ListWithFeed(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing units: %w", err)
	}

	results := make([]models.FeedSyncResult, len(units))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup

	for i := range units {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			unit := &units[i]
			res, serr := s.syncUnit(ctx, unit)
			if serr != nil {
				log.Printf("Error syncing unit %s (%s): %v", unit.Name, unit.ID, serr)
			}
			if res == nil {
				res = &models.FeedSyncResult{UnitID: unit.ID, UnitName: unit.Name, Error: serr, SyncedAt: time.Now().UTC()}
			}
			results[i] = *res
		}(i)
	}
	wg.Wait()

	summary := s.summarize(results)
	if s.markerPath != "" {
		if werr := writeRunMarker(s.markerPath, summary); werr != nil {
			log.Printf("Failed to write sync run marker: %v", werr)
		}
	}
	return results, summary, nil
}

func (s *SyncService) summarize(results []models.FeedSyncResult) *models.RunSummary {
	now := time.Now().UTC()
	summary := &models.RunSummary{
		LastRunAt:       now,
		LastRunAtLocal:  now.In(s.loc).Format(time.RFC3339),
		LocalTimezone:   s.loc.String(),
		UnitsConsidered: len(results),
	}
	for _, r := range results {
		summary.EventsUpdated += r.EventsUpserted + r.PrivateEventsMerged
		if r.Error != nil {
			summary.Errors++
		}
	}
	summary.OK = summary.Errors == 0
	return summary
}

// writeRunMarker persists the last-run summary so external monitoring can
// alert on a stalled scheduler.
func writeRunMarker(path string, summary *models.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// eventWindow returns the min start and max end across a non-empty slice.
func eventWindow(events []models.CalendarEvent) (time.Time, time.Time) {
	min, max := events[0].Start, events[0].End
	for _, e := range events[1:] {
		if e.Start.Before(min) {
			min = e.Start
		}
		if e.End.After(max) {
			max = e.End
		}
	}
	return min, max
}

// todayUTC collapses now to the current date in the reference timezone,
// expressed at UTC midnight like every stored stay date.
func todayUTC(loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
