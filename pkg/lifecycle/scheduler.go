package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fieldkite/memstore-go/pkg/storage"
)

// DefaultSchedule runs maintenance daily at 03:30, outside business hours
// for most tenants.
const DefaultSchedule = "30 3 * * *"

// tenantTimeout bounds one tenant's combined decay + consolidation run.
const tenantTimeout = 10 * time.Minute

// Scheduler periodically runs decay and consolidation for every tenant in
// the store.
//
// Tenants are processed concurrently, but runs for the same tenant are
// serialized with a per-tenant lock, so an overlapping cron tick or a manual
// RunTenant call never races a scheduled one.
type Scheduler struct {
	store   storage.Store
	manager *Manager
	decay   DecayOptions
	cron    *cron.Cron
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewScheduler creates a scheduler that runs manager's maintenance passes on
// the given cron schedule. An empty schedule selects DefaultSchedule; decay
// controls the decay pass and is applied as-is (zero fields fall back to the
// package defaults).
func NewScheduler(store storage.Store, manager *Manager, schedule string, decay DecayOptions, log zerolog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		store:   store,
		manager: manager,
		decay:   decay,
		cron:    cron.New(),
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}

	if _, err := s.cron.AddFunc(schedule, s.runAll); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduled execution. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("lifecycle scheduler started")
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("lifecycle scheduler stopped")
}

// RunTenant runs one maintenance pass (decay, then consolidation) for a
// single tenant, honoring the per-tenant lock.
func (s *Scheduler) RunTenant(ctx context.Context, companyID string) error {
	lock := s.tenantLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.manager.Decay(ctx, companyID, &s.decay); err != nil {
		return err
	}
	_, err := s.manager.Consolidate(ctx, companyID)
	return err
}

// runAll is the cron entry point: one maintenance pass per known tenant.
func (s *Scheduler) runAll() {
	ctx := context.Background()

	companies, err := s.store.Companies(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("lifecycle run skipped: listing tenants failed")
		return
	}

	var wg sync.WaitGroup
	for _, companyID := range companies {
		wg.Add(1)
		go func(companyID string) {
			defer wg.Done()

			runCtx, cancel := context.WithTimeout(ctx, tenantTimeout)
			defer cancel()

			if err := s.RunTenant(runCtx, companyID); err != nil {
				s.log.Error().Err(err).Str("company_id", companyID).Msg("lifecycle run failed")
			}
		}(companyID)
	}
	wg.Wait()
}

func (s *Scheduler) tenantLock(companyID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[companyID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[companyID] = lock
	}
	return lock
}
