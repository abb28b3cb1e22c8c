package calendar

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/staysync/backend/internal/websocket"
)

// ReconcileFunc runs a reconciliation pass after a feed sync cycle. The
// scheduler only needs to kick it off and log the outcome.
type ReconcileFunc func(ctx context.Context) error

// Scheduler runs the periodic feed sync cycle and the follow-up booking
// reconciliation.
type Scheduler struct {
	cron        *cron.Cron
	syncService *SyncService
	reconcile   ReconcileFunc
	broadcaster *websocket.EventBroadcaster

	interval time.Duration

	mu      sync.Mutex
	running bool
	lastRun *time.Time
	entryID cron.EntryID
}

// NewScheduler creates the sync scheduler. intervalMin is the cycle period in
// minutes; values below one fall back to 15.
func NewScheduler(
	syncService *SyncService,
	reconcile ReconcileFunc,
	hub *websocket.Hub,
	intervalMin int,
) *Scheduler {
	if intervalMin <= 0 {
		intervalMin = 15
	}

	var broadcaster *websocket.EventBroadcaster
	if hub != nil {
		broadcaster = websocket.NewEventBroadcaster(hub)
	}

	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		syncService: syncService,
		reconcile:   reconcile,
		broadcaster: broadcaster,
		interval:    time.Duration(intervalMin) * time.Minute,
	}
}

// Start begins the periodic cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Println("Starting calendar sync scheduler...")

	spec := "@every " + s.interval.String()
	entryID, err := s.cron.AddFunc(spec, func() {
		s.runCycle(context.Background())
	})
	if err != nil {
		return err
	}
	s.entryID = entryID

	s.cron.Start()
	log.Printf("Calendar scheduler started, syncing every %s", s.interval)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for a running cycle.
func (s *Scheduler) Stop() {
	log.Println("Stopping calendar sync scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Calendar scheduler stopped")
}

// TriggerSync runs a full cycle immediately, in the background.
func (s *Scheduler) TriggerSync() {
	go s.runCycle(context.Background())
}

// TriggerUnitSync syncs a single unit immediately, in the background.
func (s *Scheduler) TriggerUnitSync(unitID string) {
	go func() {
		ctx := context.Background()
		result, err := s.syncService.SyncUnit(ctx, unitID)
		if err != nil {
			log.Printf("Unit sync failed for %s: %v", unitID, err)
			if s.broadcaster != nil {
				name := ""
				if result != nil {
					name = result.UnitName
				}
				s.broadcaster.BroadcastFeedSyncError(unitID, name, err)
			}
			return
		}
		if s.broadcaster != nil {
			s.broadcaster.BroadcastFeedSyncCompleted(*result)
		}
	}()
}

// runCycle performs one sync-then-reconcile pass. Overlapping cycles are
// skipped rather than queued.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Sync cycle still running, skipping this tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		now := time.Now().UTC()
		s.mu.Lock()
		s.running = false
		s.lastRun = &now
		s.mu.Unlock()
	}()

	results, summary, err := s.syncService.SyncAllUnits(ctx)
	if err != nil {
		log.Printf("Feed sync cycle failed: %v", err)
		return
	}
	log.Printf("Feed sync cycle completed: %d units, %d events updated, %d errors",
		summary.UnitsConsidered, summary.EventsUpdated, summary.Errors)

	if s.broadcaster != nil {
		for _, r := range results {
			if r.Skipped {
				continue
			}
			if r.Error != nil {
				s.broadcaster.BroadcastFeedSyncError(r.UnitID, r.UnitName, r.Error)
				continue
			}
			s.broadcaster.BroadcastFeedSyncCompleted(r)
		}
	}

	if s.reconcile == nil {
		return
	}
	if err := s.reconcile(ctx); err != nil {
		log.Printf("Reconcile pass failed: %v", err)
	}
}

// LastRun returns the completion time of the most recent cycle, if any.
func (s *Scheduler) LastRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// NextRun returns the next scheduled cycle time.
func (s *Scheduler) NextRun() *time.Time {
	entry := s.cron.Entry(s.entryID)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}
