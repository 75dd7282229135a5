package folio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Cache keys refreshed by the scheduler. Import groups are scoped per
// hotel.
const (
	CacheKeyHotels        = "hotels"
	CacheKeyMappingTables = "mapping_tables"
)

// CacheKeyImportGroups returns the cache key for a hotel's import
// groups.
func CacheKeyImportGroups(hotelID string) string {
	return "import_groups_" + hotelID
}

// errPassSuperseded aborts an import-group sub-sync whose hotel is no
// longer the active one. The results for the stale hotel are discarded
// rather than committed.
var errPassSuperseded = errors.New("sync pass superseded by hotel switch")

// SchedulerConfig tunes the background sync cadence and per-key
// staleness thresholds.
type SchedulerConfig struct {
	Interval            time.Duration
	InitialDelay        time.Duration
	HotelsMaxAge        time.Duration
	ImportGroupsMaxAge  time.Duration
	MappingTablesMaxAge time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:            5 * time.Minute,
		InitialDelay:        10 * time.Second,
		HotelsMaxAge:        60 * time.Minute,
		ImportGroupsMaxAge:  15 * time.Minute,
		MappingTablesMaxAge: 24 * time.Hour,
	}
}

// Scheduler drives periodic synchronization for the currently selected
// hotel. At most one pass runs at a time; concurrent triggers no-op.
// A pass silently skips when no hotel is selected or the session is
// not elevated, and every sub-sync is isolated so one failure never
// aborts the others or the scheduler itself.
type Scheduler struct {
	session    *SessionManager
	api        RemoteAPI
	store      Store
	cache      *CacheEngine
	reconciler *Reconciler
	clock      Clock
	logger     Logger
	cfg        SchedulerConfig

	isSyncing atomic.Bool

	mu          sync.Mutex
	activeHotel string
	started     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	ctx         context.Context
}

// NewScheduler creates a Scheduler. Zero durations in cfg fall back to
// the defaults.
func NewScheduler(session *SessionManager, api RemoteAPI, store Store, cache *CacheEngine, reconciler *Reconciler, clock Clock, logger Logger, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.HotelsMaxAge <= 0 {
		cfg.HotelsMaxAge = def.HotelsMaxAge
	}
	if cfg.ImportGroupsMaxAge <= 0 {
		cfg.ImportGroupsMaxAge = def.ImportGroupsMaxAge
	}
	if cfg.MappingTablesMaxAge <= 0 {
		cfg.MappingTablesMaxAge = def.MappingTablesMaxAge
	}
	return &Scheduler{
		session:    session,
		api:        api,
		store:      store,
		cache:      cache,
		reconciler: reconciler,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start launches the background loop: one delayed initial pass, then a
// fixed-interval tick. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.ctx = ctx
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		initial := time.NewTimer(s.cfg.InitialDelay)
		defer initial.Stop()
		select {
		case <-initial.C:
			s.syncAll()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.syncAll()
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("sync scheduler started", "interval", s.cfg.Interval, "initial_delay", s.cfg.InitialDelay)
}

// Stop halts the background loop and waits for it to exit. An in-
// flight pass runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// SetHotel switches the active hotel and immediately triggers an
// out-of-band pass scoped to it. The selection is persisted so it
// survives restarts.
func (s *Scheduler) SetHotel(hotelID string) {
	s.mu.Lock()
	changed := s.activeHotel != hotelID
	s.activeHotel = hotelID
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.store.SetSetting(ctx, SettingActiveHotel, hotelID); err != nil {
		s.logger.Warn("persisting active hotel failed", "hotel_id", hotelID, "error", err)
	}
	if changed {
		s.logger.Info("active hotel changed", "hotel_id", hotelID)
	}
	go s.syncAll()
}

// RestoreHotel records a previously persisted hotel selection without
// persisting it again or triggering a pass. Used at startup before the
// scheduler's first tick.
func (s *Scheduler) RestoreHotel(hotelID string) {
	s.mu.Lock()
	s.activeHotel = hotelID
	s.mu.Unlock()
}

// ActiveHotel returns the currently selected hotel id, or "".
func (s *Scheduler) ActiveHotel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeHotel
}

// TriggerSync runs one manual pass, equivalent to a scheduled tick. If
// a pass is already running it returns immediately.
func (s *Scheduler) TriggerSync() {
	s.syncAll()
}

// syncAll runs one synchronization pass. Single-flight: a second
// concurrent call returns without doing anything. Missing hotel or an
// insufficient session is a silent skip, not an error. The hotel id is
// snapshotted at pass start; if the selection changes mid-pass, the
// import-group results for the stale hotel are discarded.
func (s *Scheduler) syncAll() {
	if !s.isSyncing.CompareAndSwap(false, true) {
		s.logger.Debug("sync pass already running, skipping")
		return
	}
	defer s.isSyncing.Store(false)

	s.mu.Lock()
	hotel := s.activeHotel
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if hotel == "" {
		s.logger.Debug("no hotel selected, skipping sync pass")
		return
	}
	if !s.session.IsAuthenticated() {
		s.logger.Debug("session not elevated, skipping sync pass")
		return
	}
	if exp := s.session.TokenExpiresAt(); !exp.IsZero() && !exp.After(s.clock.Now()) {
		s.logger.Warn("bearer token expired, skipping sync pass", "expired_at", exp)
		return
	}

	s.logger.Debug("sync pass starting", "hotel_id", hotel)

	s.runSubSync(ctx, CacheKeyHotels, s.cfg.HotelsMaxAge, func(ctx context.Context) error {
		hotels, err := s.api.GetHotels(ctx)
		if err != nil {
			return err
		}
		return s.store.ReplaceHotels(ctx, hotels)
	})

	s.runSubSync(ctx, CacheKeyImportGroups(hotel), s.cfg.ImportGroupsMaxAge, func(ctx context.Context) error {
		if s.ActiveHotel() != hotel {
			return errPassSuperseded
		}
		// Re-checked immediately before the group write so a switch
		// that lands during the fetches still discards the results.
		return s.reconciler.SyncImportGroupsForHotel(ctx, hotel, func() error {
			if s.ActiveHotel() != hotel {
				return errPassSuperseded
			}
			return nil
		})
	})

	s.runSubSync(ctx, CacheKeyMappingTables, s.cfg.MappingTablesMaxAge, func(ctx context.Context) error {
		return s.reconciler.SyncMappingTables(ctx)
	})

	s.logger.Debug("sync pass finished", "hotel_id", hotel)
}

// runSubSync wraps one sub-sync: staleness check, fetching/success/
// failed bookkeeping, and error isolation. Failures are recorded in
// the cache metadata and logged; they never propagate to the pass.
func (s *Scheduler) runSubSync(ctx context.Context, key string, maxAge time.Duration, fn func(context.Context) error) {
	if !s.cache.ShouldRefresh(ctx, key, maxAge) {
		s.logger.Debug("cache key fresh, skipping", "key", key)
		return
	}
	if err := s.cache.MarkFetching(ctx, key); err != nil {
		s.logger.Warn("marking cache key as fetching failed", "key", key, "error", err)
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("sub-sync panicked: %v", p)
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		if merr := s.cache.MarkFailed(ctx, key, err); merr != nil {
			s.logger.Warn("recording sync failure failed", "key", key, "error", merr)
		}
		if errors.Is(err, errPassSuperseded) {
			s.logger.Info("sub-sync discarded", "key", key, "reason", err)
		} else {
			s.logger.Warn("sub-sync failed", "key", key, "error", err)
		}
		return
	}

	if err := s.cache.MarkSuccess(ctx, key); err != nil {
		s.logger.Warn("recording sync success failed", "key", key, "error", err)
	}
	s.logger.Debug("sub-sync completed", "key", key)
}
