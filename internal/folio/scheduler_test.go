package folio_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"foliosync/internal/folio"
	"foliosync/internal/model"
	"foliosync/internal/testutil"
)

type schedulerEnv struct {
	api     *testutil.StubRemoteAPI
	store   folio.Store
	clock   *testutil.StubClock
	session *folio.SessionManager
	sched   *folio.Scheduler
}

func newSchedulerEnv(t *testing.T, cfg folio.SchedulerConfig) *schedulerEnv {
	t.Helper()
	api := testutil.NewStubRemoteAPI()
	st := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	logger := folio.NewNopLogger()
	identity := folio.NewIdentityProvider(st, testutil.NewStubCollector(), logger)
	session := folio.NewSessionManager(api, identity, logger, "test")
	cache := folio.NewCacheEngine(st, clock, logger)
	rec := folio.NewReconciler(api, st, logger)
	return &schedulerEnv{
		api:     api,
		store:   st,
		clock:   clock,
		session: session,
		sched:   folio.NewScheduler(session, api, st, cache, rec, clock, logger, cfg),
	}
}

func waitForCalls(t *testing.T, api *testutil.StubRemoteAPI, method string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for api.CallCount(method) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s calls, have %d", n, method, api.CallCount(method))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_SilentSkips(t *testing.T) {
	t.Run("no hotel selected", func(t *testing.T) {
		t.Parallel()
		env := newSchedulerEnv(t, folio.SchedulerConfig{})
		elevate(t, env.session)

		env.sched.TriggerSync()
		if got := env.api.CallCount("GetHotels"); got != 0 {
			t.Errorf("GetHotels calls = %d without a hotel, want 0", got)
		}
	})

	t.Run("session not elevated", func(t *testing.T) {
		t.Parallel()
		env := newSchedulerEnv(t, folio.SchedulerConfig{})
		env.sched.RestoreHotel("hotel-1")
		if err := env.session.Login(context.Background(), "a@b.com", "pw"); err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		env.sched.TriggerSync()
		if got := env.api.CallCount("GetHotels"); got != 0 {
			t.Errorf("GetHotels calls = %d at password level, want 0", got)
		}
	})
}

func TestScheduler_FullPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newSchedulerEnv(t, folio.SchedulerConfig{})
	elevate(t, env.session)
	env.sched.RestoreHotel("hotel-1")

	env.api.GetHotelsFunc = func(context.Context) ([]model.Hotel, error) {
		return []model.Hotel{{ID: "hotel-1", Name: "Grand Plaza", Currency: "EUR", Timezone: "Europe/Berlin"}}, nil
	}
	env.api.GetImportGroupsFunc = func(_ context.Context, hotelID string) ([]model.ImportGroup, error) {
		return []model.ImportGroup{{GroupName: "revenue", Imports: []model.ImportDefinition{
			{ID: "imp-1", Name: "Room revenue", MappingConfigID: "cfg-a", IsEnabled: true},
		}}}, nil
	}
	env.api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
		return entriesFor(id, 1), nil
	}

	env.sched.TriggerSync()

	hotels, err := env.store.ListHotels(ctx)
	if err != nil {
		t.Fatalf("ListHotels() error = %v", err)
	}
	if len(hotels) != 1 || hotels[0].ID != "hotel-1" {
		t.Errorf("stored hotels = %v, want hotel-1", hotels)
	}
	groups, err := env.store.ListImportGroups(ctx, "hotel-1")
	if err != nil {
		t.Fatalf("ListImportGroups() error = %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("stored groups = %d, want 1", len(groups))
	}
	if _, err := env.store.GetMappingTableState(ctx); err != nil {
		t.Errorf("GetMappingTableState() error = %v, want state stored", err)
	}

	for _, key := range []string{
		folio.CacheKeyHotels,
		folio.CacheKeyImportGroups("hotel-1"),
		folio.CacheKeyMappingTables,
	} {
		meta, err := env.store.GetCacheMetadata(ctx, key)
		if err != nil {
			t.Fatalf("GetCacheMetadata(%s) error = %v", key, err)
		}
		if meta.Status != model.CacheSuccess {
			t.Errorf("key %s status = %v, want success", key, meta.Status)
		}
	}
}

func TestScheduler_SingleFlight(t *testing.T) {
	t.Parallel()
	env := newSchedulerEnv(t, folio.SchedulerConfig{})
	elevate(t, env.session)
	env.sched.RestoreHotel("hotel-1")

	release := make(chan struct{})
	env.api.GetHotelsFunc = func(context.Context) ([]model.Hotel, error) {
		<-release
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		env.sched.TriggerSync()
		close(done)
	}()
	waitForCalls(t, env.api, "GetHotels", 1)

	// The first pass is parked inside GetHotels; this one must return
	// immediately without starting a second fetch.
	env.sched.TriggerSync()
	if got := env.api.CallCount("GetHotels"); got != 1 {
		t.Errorf("GetHotels calls = %d with a pass in flight, want 1", got)
	}

	close(release)
	<-done
}

func TestScheduler_FreshKeysAreSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newSchedulerEnv(t, folio.SchedulerConfig{})
	elevate(t, env.session)
	env.sched.RestoreHotel("hotel-1")

	// Hotels synced 10 minutes ago against a 60 minute threshold.
	synced := env.clock.Now().Add(-10 * time.Minute)
	if err := env.store.PutCacheMetadata(ctx, model.CacheMetadata{
		Key:          folio.CacheKeyHotels,
		Status:       model.CacheSuccess,
		LastSyncedAt: &synced,
	}); err != nil {
		t.Fatalf("PutCacheMetadata() error = %v", err)
	}

	env.sched.TriggerSync()

	if got := env.api.CallCount("GetHotels"); got != 0 {
		t.Errorf("GetHotels calls = %d for a fresh key, want 0", got)
	}
	if got := env.api.CallCount("GetImportGroups"); got != 1 {
		t.Errorf("GetImportGroups calls = %d, want 1 (other keys still refresh)", got)
	}
}

func TestScheduler_HotelSwitchSupersedesPass(t *testing.T) {
	requireSuperseded := func(t *testing.T, env *schedulerEnv) {
		t.Helper()
		meta, err := env.store.GetCacheMetadata(context.Background(), folio.CacheKeyImportGroups("hotel-1"))
		if err != nil {
			t.Fatalf("GetCacheMetadata() error = %v", err)
		}
		if meta.Status != model.CacheFailed {
			t.Errorf("superseded key status = %v, want failed", meta.Status)
		}
		if !strings.Contains(meta.Error, "superseded") {
			t.Errorf("superseded key error = %q, want mention of supersession", meta.Error)
		}
	}

	t.Run("switch between sub-syncs skips the group fetch", func(t *testing.T) {
		t.Parallel()
		env := newSchedulerEnv(t, folio.SchedulerConfig{})
		elevate(t, env.session)
		env.sched.RestoreHotel("hotel-1")

		env.api.GetHotelsFunc = func(context.Context) ([]model.Hotel, error) {
			env.sched.RestoreHotel("hotel-2")
			return nil, nil
		}

		env.sched.TriggerSync()

		if got := env.api.CallCount("GetImportGroups"); got != 0 {
			t.Errorf("GetImportGroups calls = %d for a superseded hotel, want 0", got)
		}
		requireSuperseded(t, env)
	})

	t.Run("switch during the group fetch discards the results", func(t *testing.T) {
		t.Parallel()
		env := newSchedulerEnv(t, folio.SchedulerConfig{})
		elevate(t, env.session)
		env.sched.RestoreHotel("hotel-1")

		// The selection changes after the fetch has already started,
		// so only the pre-commit re-check can catch it.
		env.api.GetImportGroupsFunc = func(_ context.Context, hotelID string) ([]model.ImportGroup, error) {
			env.sched.RestoreHotel("hotel-2")
			return []model.ImportGroup{{GroupName: "revenue", Imports: []model.ImportDefinition{
				{ID: "imp-1", Name: "Room revenue", MappingConfigID: "cfg-a", IsEnabled: true},
			}}}, nil
		}
		env.api.GetMappingEntriesFunc = func(_ context.Context, id string) ([]model.MappingEntry, error) {
			return entriesFor(id, 1), nil
		}

		env.sched.TriggerSync()

		stored, err := env.store.ListImportGroups(context.Background(), "hotel-1")
		if err != nil {
			t.Fatalf("ListImportGroups() error = %v", err)
		}
		if len(stored) != 0 {
			t.Errorf("stored groups = %d for a superseded hotel, want 0", len(stored))
		}
		requireSuperseded(t, env)
	})
}

func TestScheduler_SubSyncPanicIsIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newSchedulerEnv(t, folio.SchedulerConfig{})
	elevate(t, env.session)
	env.sched.RestoreHotel("hotel-1")

	env.api.GetImportGroupsFunc = func(context.Context, string) ([]model.ImportGroup, error) {
		panic("unexpected payload shape")
	}

	env.sched.TriggerSync()

	meta, err := env.store.GetCacheMetadata(ctx, folio.CacheKeyImportGroups("hotel-1"))
	if err != nil {
		t.Fatalf("GetCacheMetadata() error = %v", err)
	}
	if meta.Status != model.CacheFailed {
		t.Errorf("panicked key status = %v, want failed", meta.Status)
	}
	// The pass itself survived and ran the remaining sub-syncs.
	if got := env.api.CallCount("GetMappingTableVersion"); got != 1 {
		t.Errorf("GetMappingTableVersion calls = %d after panic, want 1", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()
	env := newSchedulerEnv(t, folio.SchedulerConfig{
		Interval:     time.Hour,
		InitialDelay: 5 * time.Millisecond,
	})
	elevate(t, env.session)
	env.sched.RestoreHotel("hotel-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.sched.Start(ctx)
	env.sched.Start(ctx) // second Start is a no-op
	waitForCalls(t, env.api, "GetHotels", 1)

	env.sched.Stop()
	env.sched.Stop() // second Stop is a no-op
}

func TestScheduler_SetHotelPersistsSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newSchedulerEnv(t, folio.SchedulerConfig{})

	env.sched.SetHotel("hotel-7")

	if got := env.sched.ActiveHotel(); got != "hotel-7" {
		t.Errorf("ActiveHotel() = %q, want hotel-7", got)
	}
	stored, err := env.store.GetSetting(ctx, folio.SettingActiveHotel)
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if stored != "hotel-7" {
		t.Errorf("persisted hotel = %q, want hotel-7", stored)
	}
}
