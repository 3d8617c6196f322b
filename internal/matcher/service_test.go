package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/hitchr-matching/internal/availability"
	"github.com/example/hitchr-matching/internal/eta"
	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/ingest"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/pricing"
	"github.com/example/hitchr-matching/internal/redact"
	"github.com/example/hitchr-matching/internal/storage"
)

// Monday 2026-06-01 10:00 in Vancouver.
var fixedNow = time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu       sync.Mutex
	pings    []models.LocationPing
	events   []ingest.ListingEvent
	failPing bool
}

func (f *fakePublisher) PublishPing(_ context.Context, p models.LocationPing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPing {
		return errors.New("broker down")
	}
	f.pings = append(f.pings, p)
	return nil
}

func (f *fakePublisher) PublishListing(_ context.Context, e ingest.ListingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func newService(store storage.ListingStore) *Service {
	n := 0
	return &Service{
		Store:        store,
		Locations:    geo.NewIndex(),
		Pipeline:     NewPipeline(DefaultCenter, redact.New(func() float64 { return 0.5 })),
		ETA:          &eta.RoutedCalculator{Base: eta.NewCalculator(eta.DefaultSpeedKmh)},
		Pricing:      pricing.NewEngine(pricing.DefaultConfig()),
		Availability: availability.NewResolver(availability.DefaultLookaheadDays, availability.DefaultTimezone),
		Clock:        func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return "id-" + string(rune('0'+n))
		},
	}
}

func TestLoadDriverModeFiltersRequests(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	lat, lng := north(1)
	_ = store.SaveRequest(ctx, &models.DeliveryRequest{ID: "open", Status: models.RequestStatusOpen, PosterID: "u9", PickupLat: lat, PickupLng: lng})
	_ = store.SaveRequest(ctx, &models.DeliveryRequest{ID: "anon", Status: models.RequestStatusOpen, PickupLat: lat, PickupLng: lng})
	_ = store.SaveRequest(ctx, &models.DeliveryRequest{ID: "taken", Status: "accepted", PickupLat: lat, PickupLng: lng})
	_ = store.SaveRequest(ctx, &models.DeliveryRequest{ID: "test", Status: models.RequestStatusOpen, IsTestData: true, PickupLat: lat, PickupLng: lng})

	svc := newService(store)
	got, err := svc.Load(ctx, ModeDriver, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID() != "anon" || got[1].ID() != "open" {
		t.Fatalf("unexpected listings %+v", got)
	}
	if got[0].Request.PosterName != "Sender" || got[1].Request.PosterName != "u9" {
		t.Fatalf("poster name fallbacks not applied: %q %q", got[0].Request.PosterName, got[1].Request.PosterName)
	}

	withTest, _ := svc.Load(ctx, ModeDriver, true)
	if len(withTest) != 3 {
		t.Fatalf("sandbox should include test data, got %d", len(withTest))
	}
}

func TestLoadSenderModeJoinsLocatedProfiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	lat, lng := north(1)
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "p1", Name: "Ann", CurrentLat: lat, CurrentLng: lng})
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "p2", Name: "Bob"})
	_ = store.SaveAvailability(ctx, &models.DriverAvailability{ID: "a1", DriverProfileID: "p1", Status: models.AvailabilityStatusActive})
	_ = store.SaveAvailability(ctx, &models.DriverAvailability{ID: "a2", DriverProfileID: "p2", Status: models.AvailabilityStatusActive})
	_ = store.SaveAvailability(ctx, &models.DriverAvailability{ID: "a3", DriverProfileID: "p1", Status: models.AvailabilityStatusPaused})
	_ = store.SaveAvailability(ctx, &models.DriverAvailability{ID: "a4", DriverProfileID: "missing", Status: models.AvailabilityStatusActive})

	got, err := newService(store).Load(ctx, ModeSender, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID() != "a1" {
		t.Fatalf("unexpected listings %+v", got)
	}
	d := got[0].Driver
	if d.VehicleType != "car" || d.BaseFee != 15 || d.CategoriesServed == nil {
		t.Fatalf("profile defaults not applied: %+v", d)
	}
}

func TestFeedAnnotatesMatches(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pLat, pLng := north(2)
	dLat, dLng := north(22)
	depart := fixedNow.Add(time.Hour)
	_ = store.SaveRequest(ctx, &models.DeliveryRequest{
		ID: "r1", Status: models.RequestStatusOpen, ItemType: models.CategoryFirewood,
		PickupAddress: "Quesnel, BC", PickupLat: pLat, PickupLng: pLng,
		DropoffAddress: "Hixon, BC", DropoffLat: dLat, DropoffLng: dLng,
		DeliverBy: &depart,
	})

	res, err := newService(store).Feed(ctx, Query{Mode: ModeDriver, Center: &center, RadiusKm: 10, Authenticated: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected one match, got %d", len(res.Matches))
	}
	m := res.Matches[0]
	if m.ETA == nil || m.ETA.OriginName != "Quesnel" || m.ETA.DistanceKm != 20 {
		t.Fatalf("unexpected eta %+v", m.ETA)
	}
	// 20 km of firewood: 7 + 10 addon
	if m.SuggestedPrice != 17 {
		t.Fatalf("suggested price = %v, want 17", m.SuggestedPrice)
	}
}

func TestFeedUsesFreshViewerLocation(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryStore())
	_ = svc.Locations.Upsert(ctx, models.LocationPing{UserID: "v1", Lat: 10, Lng: 20, Timestamp: fixedNow.Add(-time.Minute)})
	_ = svc.Locations.Upsert(ctx, models.LocationPing{UserID: "old", Lat: 10, Lng: 20, Timestamp: fixedNow.Add(-10 * time.Minute)})

	res, err := svc.Feed(ctx, Query{Mode: ModeDriver, RadiusKm: 10, ViewerID: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Center != (models.Coord{Lat: 10, Lng: 20}) {
		t.Fatalf("expected viewer location, got %+v", res.Center)
	}
	res, _ = svc.Feed(ctx, Query{Mode: ModeDriver, RadiusKm: 10, ViewerID: "old"})
	if res.Center != DefaultCenter {
		t.Fatalf("stale location should fall back to the default center, got %+v", res.Center)
	}
}

func hotShotConfig() models.HotShotConfig {
	return models.HotShotConfig{
		Enabled:       true,
		BaseLocation:  &models.Place{Lat: 51.6, Lng: -121.3, Label: "Lac La Hache, BC"},
		MaxDistanceKm: 100,
		MaxTimeMin:    90,
		BaseFeeCad:    40,
		Availability: models.Schedule{
			Windows: []models.AvailabilityWindow{{Days: []string{"Mon"}, Start: "09:00", End: "17:00"}},
		},
	}
}

func TestPublishHotShotCreatesAndUpdatesPost(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "d1", Name: "Ann", CategoriesServed: []models.Category{models.CategoryFirewood}})
	svc := newService(store)
	pub := &fakePublisher{}
	svc.Publisher = pub

	post, err := svc.PublishHotShot(ctx, "d1", hotShotConfig())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if post.ID != "id-1" || !post.HotShot || post.Status != models.AvailabilityStatusActive {
		t.Fatalf("unexpected post %+v", post)
	}
	if *post.FromLat != 51.6 || *post.ToLat != 51.6 || post.MinFee != 40 || !post.DepartAt.Equal(fixedNow) {
		t.Fatalf("post not built from the config: %+v", post)
	}
	if post.HotShotConfig.BaseLocation != nil || !post.HotShotConfig.AvailableNow || post.HotShotConfig.PostID != "id-1" {
		t.Fatalf("unexpected embedded config %+v", post.HotShotConfig)
	}
	if post.Notes != "Hot Shot: Available for special trips. Max 100km, 90min." {
		t.Fatalf("unexpected notes %q", post.Notes)
	}
	profile, _ := store.GetProfile(ctx, "d1")
	if profile.HotShot == nil || profile.HotShot.PostID != "id-1" || !profile.HotShotCapable {
		t.Fatalf("profile not updated: %+v", profile)
	}
	if profile.HotShot.Availability.Timezone != availability.DefaultTimezone {
		t.Fatalf("timezone default not stored, got %q", profile.HotShot.Availability.Timezone)
	}

	again, err := svc.PublishHotShot(ctx, "d1", hotShotConfig())
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != "id-1" {
		t.Fatalf("republish should reuse the post, got %s", again.ID)
	}
	avails, _ := store.ListAvailabilities(ctx)
	if len(avails) != 1 {
		t.Fatalf("expected a single post, got %d", len(avails))
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected two listing events, got %d", len(pub.events))
	}
}

func TestPublishHotShotDisablePausesPost(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "d1"})
	svc := newService(store)
	if _, err := svc.PublishHotShot(ctx, "d1", hotShotConfig()); err != nil {
		t.Fatal(err)
	}

	off := models.HotShotConfig{Enabled: false}
	post, err := svc.PublishHotShot(ctx, "d1", off)
	if err != nil {
		t.Fatal(err)
	}
	if post == nil || post.Status != models.AvailabilityStatusPaused {
		t.Fatalf("expected paused post, got %+v", post)
	}
	profile, _ := store.GetProfile(ctx, "d1")
	if profile.HotShot.Enabled || profile.HotShot.PostID != "id-1" || profile.HotShot.BaseLocation == nil {
		t.Fatalf("disabled config should keep the post link and base location: %+v", profile.HotShot)
	}

	feed, _ := svc.Feed(ctx, Query{Mode: ModeSender, RadiusKm: 10})
	if len(feed.Matches) != 0 {
		t.Fatalf("paused post should not be listed")
	}
}

func TestPublishHotShotRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "d1"})
	cfg := hotShotConfig()
	cfg.MaxDistanceKm = 0
	_, err := newService(store).PublishHotShot(ctx, "d1", cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := availability.Fields(err)["maxDistance"]; !ok {
		t.Fatalf("expected maxDistance field error, got %v", err)
	}

	if _, err := newService(store).PublishHotShot(ctx, "nobody", hotShotConfig()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHotShotFeedStatus(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	lat, lng := north(1)
	_ = store.SaveProfile(ctx, &models.DriverProfile{ID: "d1", Name: "Ann", CurrentLat: lat, CurrentLng: lng})
	svc := newService(store)
	if _, err := svc.PublishHotShot(ctx, "d1", hotShotConfig()); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Feed(ctx, Query{Mode: ModeSender, Center: &center, RadiusKm: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("hot shot post should bypass the radius, got %d matches", len(res.Matches))
	}
	m := res.Matches[0]
	if !m.Priority || m.HotShotStatus == nil || m.HotShotStatus.Type != availability.StatusAvailable {
		t.Fatalf("unexpected hot shot match %+v", m)
	}
	if m.HotShotStatus.Text != "Available now until 5:00 PM" {
		t.Fatalf("unexpected status text %q", m.HotShotStatus.Text)
	}
	if m.SuggestedPrice != 10 {
		t.Fatalf("distance 0 should price the 20 km default, got %v", m.SuggestedPrice)
	}
}

func TestRecordPing(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryStore())
	if err := svc.RecordPing(ctx, models.LocationPing{UserID: "u1", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := svc.Locations.Last(ctx, "u1")
	if !ok || !got.Timestamp.Equal(fixedNow) {
		t.Fatalf("ping not stored with the clock time: %+v", got)
	}

	pub := &fakePublisher{}
	svc.Publisher = pub
	if err := svc.RecordPing(ctx, models.LocationPing{UserID: "u2", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if len(pub.pings) != 1 {
		t.Fatalf("ping should go to the publisher")
	}
	pub.failPing = true
	if err := svc.RecordPing(ctx, models.LocationPing{UserID: "u3"}); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestSaveAndDeleteListing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store)
	l, err := svc.SaveListing(ctx, "u1", models.RequestListing(&models.DeliveryRequest{ItemType: models.CategoryParcels}))
	if err != nil {
		t.Fatal(err)
	}
	if l.ID() != "id-1" || l.Request.Status != models.RequestStatusOpen || !l.Request.CreatedAt.Equal(fixedNow) {
		t.Fatalf("defaults not applied: %+v", l.Request)
	}
	if l.Request.PosterID != "u1" {
		t.Fatalf("viewer should own the new listing, got %q", l.Request.PosterID)
	}
	if _, err := svc.SaveListing(ctx, "u1", models.Listing{Kind: "boat"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if err := svc.DeleteListing(ctx, "u1", "id-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteListing(ctx, "u1", "id-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListingOwnership(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store)

	if _, err := svc.SaveListing(ctx, "", models.RequestListing(&models.DeliveryRequest{})); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest save: expected ErrForbidden, got %v", err)
	}
	drv := models.DriverListing(&models.DriverAvailability{ID: "a1", DriverProfileID: "d1"}, nil)
	if _, err := svc.SaveListing(ctx, "d2", drv); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign availability: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SaveListing(ctx, "d1", drv); err != nil {
		t.Fatal(err)
	}
	takeover := models.DriverListing(&models.DriverAvailability{ID: "a1"}, nil)
	if _, err := svc.SaveListing(ctx, "d2", takeover); !errors.Is(err, ErrForbidden) {
		t.Fatalf("overwrite: expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteListing(ctx, "", "a1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest delete: expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteListing(ctx, "d2", "a1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: expected ErrForbidden, got %v", err)
	}
	a, err := store.GetAvailability(ctx, "a1")
	if err != nil || a.DriverProfileID != "d1" {
		t.Fatalf("stored availability changed: %+v %v", a, err)
	}
	if err := svc.DeleteListing(ctx, "d1", "a1"); err != nil {
		t.Fatal(err)
	}
}

func TestListingEventsReachEverySink(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryStore())
	pub, notifier := &fakePublisher{}, &fakePublisher{}
	svc.Publisher, svc.Notifier = pub, notifier

	if _, err := svc.SaveListing(ctx, "u1", models.RequestListing(&models.DeliveryRequest{ItemType: models.CategoryFood})); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteListing(ctx, "u1", "id-1"); err != nil {
		t.Fatal(err)
	}
	for name, f := range map[string]*fakePublisher{"publisher": pub, "notifier": notifier} {
		if len(f.events) != 2 || f.events[0].Type != ingest.EventUpserted || f.events[1].Type != ingest.EventDeleted {
			t.Fatalf("%s got %+v", name, f.events)
		}
	}
}

type countingRouter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRouter) EstimateSeconds(_ context.Context, _, _ models.Coord) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1200, nil
}

func TestGuestFeedsShareRouteCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pLat, pLng := north(2)
	dLat, dLng := north(22)
	depart := fixedNow.Add(time.Hour)
	for _, id := range []string{"r1", "r2", "r3"} {
		_ = store.SaveRequest(ctx, &models.DeliveryRequest{
			ID: id, Status: models.RequestStatusOpen, ItemType: models.CategoryParcels,
			PickupAddress: "1 Main St, Quesnel, BC", PickupLat: pLat, PickupLng: pLng,
			DropoffLat: dLat, DropoffLng: dLng, DeliverBy: &depart,
		})
	}
	router := &countingRouter{}
	svc := newService(store)
	// a varying source so every guest sees different jitter
	n := 0.0
	svc.Pipeline = NewPipeline(DefaultCenter, redact.New(func() float64 {
		n += 0.07
		if n >= 1 {
			n -= 1
		}
		return n
	}))
	svc.ETA = &eta.RoutedCalculator{Base: eta.NewCalculator(eta.DefaultSpeedKmh), Router: router, Cache: eta.NewCache(time.Minute)}

	for i := 0; i < 3; i++ {
		res, err := svc.Feed(ctx, Query{Mode: ModeDriver, Center: &center, RadiusKm: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matches) != 3 {
			t.Fatalf("expected three matches, got %d", len(res.Matches))
		}
		for _, m := range res.Matches {
			if m.ETA == nil || m.ETA.BufferTag != eta.RoutedTag {
				t.Fatalf("expected a routed eta, got %+v", m.ETA)
			}
			if m.ETA.OriginName != "Quesnel" {
				t.Fatalf("guest eta should use the redacted address, got %q", m.ETA.OriginName)
			}
		}
	}
	if router.calls != 1 {
		t.Fatalf("router called %d times, want 1", router.calls)
	}
}
