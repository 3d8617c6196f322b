package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/hitchr-matching/internal/availability"
	"github.com/example/hitchr-matching/internal/eta"
	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/ingest"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/observability"
	"github.com/example/hitchr-matching/internal/pricing"
	"github.com/example/hitchr-matching/internal/storage"
)

const (
	// DefaultPriceDistanceKm prices a card whose distance is unknown.
	DefaultPriceDistanceKm = 20
	DefaultLocationMaxAge  = 5 * time.Minute

	defaultVehicleType = "car"
	defaultBaseFee     = 15
	defaultPosterName  = "Sender"
	defaultHotShotNote = "Available for special trips"
)

var (
	// ErrInvalidListing is returned for listings whose kind and body disagree.
	ErrInvalidListing = errors.New("invalid listing")
	// ErrForbidden is returned when the viewer does not own the listing.
	ErrForbidden = errors.New("listing belongs to another user")
)

// Service loads listings from the store, runs the pipeline over them and
// annotates the survivors for display.
type Service struct {
	Store        storage.ListingStore
	Locations    geo.Locations
	Pipeline     *Pipeline
	ETA          *eta.RoutedCalculator
	Pricing      *pricing.Engine
	Availability *availability.Resolver
	Publisher    ingest.Publisher
	// Notifier receives listing events in addition to Publisher.
	Notifier ingest.ListingPublisher

	Clock          func() time.Time
	NewID          func() string
	Logger         *slog.Logger
	LocationMaxAge time.Duration
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Feed computes the listings visible to the viewer described by q.
func (s *Service) Feed(ctx context.Context, q Query) (Result, error) {
	start := time.Now()
	now := s.now()
	if q.Center == nil {
		q.Center = s.viewerCenter(ctx, q.ViewerID, now)
	}
	listings, err := s.Load(ctx, q.Mode, q.Sandbox)
	if err != nil {
		return Result{}, err
	}
	res := s.Pipeline.Run(listings, q, func(m *Match) { s.annotate(ctx, now, m) })

	observability.FeedRequestsTotal.WithLabelValues(string(q.Mode)).Inc()
	observability.FeedLatency.Observe(time.Since(start).Seconds())
	for stage, n := range map[string]int{
		"raw":      res.Counts.Raw,
		"radius":   res.Counts.AfterRadius,
		"category": res.Counts.AfterCategory,
		"hot_shot": res.Counts.AfterHotShot,
		"final":    res.Counts.Final,
	} {
		observability.FeedStageListings.WithLabelValues(stage).Observe(float64(n))
	}
	s.logger().Debug("feed computed",
		"mode", q.Mode,
		"radius_km", q.RadiusKm,
		"category", q.Category,
		"raw", res.Counts.Raw,
		"final", res.Counts.Final,
	)
	return res, nil
}

// viewerCenter returns the viewer's cached position when it is fresh enough.
func (s *Service) viewerCenter(ctx context.Context, viewerID string, now time.Time) *models.Coord {
	if viewerID == "" || s.Locations == nil {
		return nil
	}
	ping, ok, err := s.Locations.Last(ctx, viewerID)
	if err != nil {
		s.logger().Warn("location lookup failed", "viewer_id", viewerID, "error", err)
		return nil
	}
	maxAge := s.LocationMaxAge
	if maxAge <= 0 {
		maxAge = DefaultLocationMaxAge
	}
	if !ok || !ping.FreshAt(now, maxAge) {
		return nil
	}
	c := ping.Coord()
	return &c
}

// Load returns the raw feed for a mode: open requests for drivers, active
// availabilities joined to located driver profiles for senders. Test data is
// only included in sandbox mode.
func (s *Service) Load(ctx context.Context, mode Mode, sandbox bool) ([]models.Listing, error) {
	if mode == ModeDriver {
		reqs, err := s.Store.ListRequests(ctx)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		out := make([]models.Listing, 0, len(reqs))
		for _, r := range reqs {
			if r.Status != models.RequestStatusOpen || (r.IsTestData && !sandbox) {
				continue
			}
			if r.PosterName == "" {
				r.PosterName = r.PosterID
			}
			if r.PosterName == "" {
				r.PosterName = defaultPosterName
			}
			out = append(out, models.RequestListing(r))
		}
		return out, nil
	}

	var (
		avails   []*models.DriverAvailability
		profiles []*models.DriverProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		avails, err = s.Store.ListAvailabilities(gctx)
		if err != nil {
			return fmt.Errorf("list availabilities: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		profiles, err = s.Store.ListProfiles(gctx)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*models.DriverProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	out := make([]models.Listing, 0, len(avails))
	for _, a := range avails {
		if a.Status != models.AvailabilityStatusActive || (a.IsTestData && !sandbox) {
			continue
		}
		p, ok := byID[a.DriverProfileID]
		if !ok {
			continue
		}
		if _, located := models.Point(p.CurrentLat, p.CurrentLng); !located {
			continue
		}
		d := *p
		if d.VehicleType == "" {
			d.VehicleType = defaultVehicleType
		}
		if d.BaseFee == 0 {
			d.BaseFee = defaultBaseFee
		}
		if d.CategoriesServed == nil {
			d.CategoriesServed = []models.Category{}
		}
		out = append(out, models.DriverListing(a, &d))
	}
	return out, nil
}

func (s *Service) annotate(ctx context.Context, now time.Time, m *Match) {
	if s.ETA != nil {
		m.ETA = s.ETA.ComputeFor(ctx, m.Listing, m.stored)
		outcome := "computed"
		if m.ETA == nil {
			outcome = "unavailable"
		}
		observability.ETAResultsTotal.WithLabelValues(outcome).Inc()
	}
	if s.Pricing != nil {
		m.SuggestedPrice = s.suggestedPrice(m)
	}
	if m.Listing.HotShotPost() {
		if cfg := m.Listing.Availability.HotShotConfig; cfg != nil {
			st := s.hotShotStatus(now, cfg)
			m.HotShotStatus = &st
		}
	}
}

// suggestedPrice prices what the card shows: a driver's trip from the search
// center with their first category, or a request's own pickup to dropoff.
// Real coordinates are used so a guest's price does not drift with jitter.
func (s *Service) suggestedPrice(m *Match) float64 {
	l := m.stored
	if l.Kind == "" {
		l = m.Listing
	}
	switch l.Kind {
	case models.KindDriver:
		km := m.SortKm()
		if km == 0 || math.IsInf(km, 1) {
			km = DefaultPriceDistanceKm
		}
		category := models.CategoryMisc
		if cats := Categories(l); len(cats) > 0 {
			category = cats[0]
		}
		return s.Pricing.Calculate(km, category, pricing.Extra{})
	case models.KindRequest:
		r := l.Request
		if r == nil {
			return 0
		}
		km := float64(DefaultPriceDistanceKm)
		pickup, okP := models.Point(r.PickupLat, r.PickupLng)
		dropoff, okD := models.Point(r.DropoffLat, r.DropoffLng)
		if okP && okD {
			km = geo.Between(pickup, dropoff)
		}
		return s.Pricing.Calculate(km, r.ItemType, pricing.Extra{Seats: r.Seats})
	}
	return 0
}

// hotShotStatus prefers a live evaluation of the embedded schedule and falls
// back to the status stored when the post was published.
func (s *Service) hotShotStatus(now time.Time, cfg *models.HotShotConfig) availability.Status {
	if s.Availability != nil && len(cfg.Availability.Windows) > 0 {
		return s.Availability.Compute(now, cfg.Availability).Status()
	}
	return availability.FormatStatus(cfg.AvailableNow, cfg.AvailableUntil, cfg.NextAvailable)
}

// PublishHotShot saves a driver's Hot Shot config. An enabled config is
// posted as an active availability at the base location; a disabled one
// pauses the existing post. The stored post is returned when there is one.
func (s *Service) PublishHotShot(ctx context.Context, driverID string, cfg models.HotShotConfig) (*models.DriverAvailability, error) {
	if err := availability.Validate(cfg); err != nil {
		observability.HotShotPublishesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	profile, err := s.Store.GetProfile(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("load driver %s: %w", driverID, err)
	}
	now := s.now()
	var prev models.HotShotConfig
	if profile.HotShot != nil {
		prev = *profile.HotShot
	}
	cfg.PostID = prev.PostID
	if cfg.Availability.Timezone == "" {
		cfg.Availability.Timezone = s.Availability.Location("").String()
	}

	if !cfg.Enabled {
		if cfg.BaseLocation == nil {
			cfg.BaseLocation = prev.BaseLocation
		}
		post, err := s.pausePost(ctx, cfg.PostID, now)
		if err != nil {
			return nil, err
		}
		profile.HotShot = &cfg
		if err := s.Store.SaveProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("save driver %s: %w", driverID, err)
		}
		observability.HotShotPublishesTotal.WithLabelValues("disabled").Inc()
		s.logger().Info("hot shot disabled", "driver_id", driverID, "post_id", cfg.PostID)
		return post, nil
	}

	res := s.Availability.Compute(now, cfg.Availability)
	embedded := cfg
	embedded.BaseLocation = nil
	embedded.AvailableNow = res.AvailableNow
	embedded.AvailableUntil = res.AvailableUntil
	embedded.NextAvailable = res.NextAvailable

	post := &models.DriverAvailability{
		DriverProfileID: driverID,
		Status:          models.AvailabilityStatusActive,
		IsTestData:      profile.IsTestData,
		FromAddress:     cfg.BaseLocation.Label,
		FromLat:         models.Float(cfg.BaseLocation.Lat),
		FromLng:         models.Float(cfg.BaseLocation.Lng),
		ToAddress:       cfg.BaseLocation.Label,
		ToLat:           models.Float(cfg.BaseLocation.Lat),
		ToLng:           models.Float(cfg.BaseLocation.Lng),
		DepartAt:        &now,
		Capacities:      append([]models.Category{}, profile.CategoriesServed...),
		VehicleType:     profile.VehicleType,
		MinFee:          cfg.BaseFeeCad,
		Notes:           hotShotNotes(cfg),
		HotShot:         true,
		HotShotConfig:   &embedded,
		CreatedAt:       now,
	}
	post.ID = cfg.PostID
	if post.ID != "" {
		existing, err := s.Store.GetAvailability(ctx, post.ID)
		switch {
		case err == nil:
			post.CreatedAt = existing.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			post.ID = ""
		default:
			return nil, fmt.Errorf("load hot shot post %s: %w", cfg.PostID, err)
		}
	}
	if post.ID == "" {
		post.ID = s.newID()
	}
	embedded.PostID = post.ID
	if err := s.Store.SaveAvailability(ctx, post); err != nil {
		return nil, fmt.Errorf("save hot shot post: %w", err)
	}

	cfg.PostID = post.ID
	profile.HotShot = &cfg
	profile.HotShotCapable = true
	if err := s.Store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save driver %s: %w", driverID, err)
	}
	s.announce(ctx, ingest.EventUpserted, models.DriverListing(post, nil), now)
	observability.HotShotPublishesTotal.WithLabelValues("posted").Inc()
	s.logger().Info("hot shot posted", "driver_id", driverID, "post_id", post.ID, "available_now", res.AvailableNow)
	return post, nil
}

func (s *Service) pausePost(ctx context.Context, postID string, now time.Time) (*models.DriverAvailability, error) {
	if postID == "" {
		return nil, nil
	}
	post, err := s.Store.GetAvailability(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load hot shot post %s: %w", postID, err)
	}
	post.Status = models.AvailabilityStatusPaused
	if err := s.Store.SaveAvailability(ctx, post); err != nil {
		return nil, fmt.Errorf("pause hot shot post %s: %w", postID, err)
	}
	s.announce(ctx, ingest.EventUpserted, models.DriverListing(post, nil), now)
	return post, nil
}

func hotShotNotes(cfg models.HotShotConfig) string {
	notes := cfg.Notes
	if notes == "" {
		notes = defaultHotShotNote
	}
	return fmt.Sprintf("Hot Shot: %s. Max %gkm, %gmin.", notes, cfg.MaxDistanceKm, cfg.MaxTimeMin)
}

// SaveListing stores a request or availability on behalf of viewerID,
// assigning an ID when the record has none. The viewer becomes the owner of
// an unowned listing; listings owned by someone else, new or stored, are
// rejected with ErrForbidden.
func (s *Service) SaveListing(ctx context.Context, viewerID string, l models.Listing) (models.Listing, error) {
	if viewerID == "" {
		return l, ErrForbidden
	}
	now := s.now()
	switch l.Kind {
	case models.KindRequest:
		if l.Request == nil {
			return l, fmt.Errorf("%w: request listing without request body", ErrInvalidListing)
		}
		r := l.Request
		if r.PosterID == "" {
			r.PosterID = viewerID
		}
		if err := s.checkOwner(ctx, viewerID, l); err != nil {
			return l, err
		}
		if r.ID == "" {
			r.ID = s.newID()
		}
		if r.Status == "" {
			r.Status = models.RequestStatusOpen
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if err := s.Store.SaveRequest(ctx, r); err != nil {
			return l, fmt.Errorf("save request %s: %w", r.ID, err)
		}
	case models.KindDriver:
		if l.Availability == nil {
			return l, fmt.Errorf("%w: driver listing without availability body", ErrInvalidListing)
		}
		a := l.Availability
		if a.DriverProfileID == "" {
			a.DriverProfileID = viewerID
		}
		if err := s.checkOwner(ctx, viewerID, l); err != nil {
			return l, err
		}
		if a.ID == "" {
			a.ID = s.newID()
		}
		if a.Status == "" {
			a.Status = models.AvailabilityStatusActive
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if err := s.Store.SaveAvailability(ctx, a); err != nil {
			return l, fmt.Errorf("save availability %s: %w", a.ID, err)
		}
	default:
		return l, fmt.Errorf("%w: unknown kind %q", ErrInvalidListing, l.Kind)
	}
	s.announce(ctx, ingest.EventUpserted, l, now)
	return l, nil
}

// DeleteListing removes a listing owned by viewerID.
func (s *Service) DeleteListing(ctx context.Context, viewerID, id string) error {
	if viewerID == "" {
		return ErrForbidden
	}
	stored, err := s.storedListing(ctx, id)
	if err != nil {
		return err
	}
	if stored.OwnerID() != viewerID {
		return ErrForbidden
	}
	if err := s.Store.DeleteListing(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, ingest.ListingEvent{Type: ingest.EventDeleted, ListingID: id, At: s.now()})
	return nil
}

// checkOwner rejects l when it, or the stored record it would replace,
// belongs to someone other than viewerID.
func (s *Service) checkOwner(ctx context.Context, viewerID string, l models.Listing) error {
	if l.OwnerID() != viewerID {
		return ErrForbidden
	}
	if l.ID() == "" {
		return nil
	}
	stored, err := s.storedListing(ctx, l.ID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored.OwnerID() != viewerID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) storedListing(ctx context.Context, id string) (models.Listing, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err == nil {
		return models.RequestListing(r), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Listing{}, fmt.Errorf("load listing %s: %w", id, err)
	}
	a, err := s.Store.GetAvailability(ctx, id)
	if err == nil {
		return models.DriverListing(a, nil), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Listing{}, fmt.Errorf("load listing %s: %w", id, err)
	}
	return models.Listing{}, err
}

func (s *Service) announce(ctx context.Context, typ string, l models.Listing, now time.Time) {
	s.emit(ctx, ingest.ListingEvent{Type: typ, ListingID: l.ID(), Listing: &l, At: now})
}

func (s *Service) emit(ctx context.Context, e ingest.ListingEvent) {
	var sinks []ingest.ListingPublisher
	if s.Publisher != nil {
		sinks = append(sinks, s.Publisher)
	}
	if s.Notifier != nil {
		sinks = append(sinks, s.Notifier)
	}
	for _, sink := range sinks {
		if err := sink.PublishListing(ctx, e); err != nil {
			s.logger().Warn("listing event publish failed", "listing_id", e.ListingID, "type", e.Type, "error", err)
		}
	}
}

// RecordPing stores a viewer location. Pings go through Kafka when a
// publisher is configured and straight into the location cache otherwise.
func (s *Service) RecordPing(ctx context.Context, p models.LocationPing) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishPing(ctx, p); err != nil {
			return fmt.Errorf("publish ping: %w", err)
		}
		observability.LocationPingsTotal.WithLabelValues("kafka").Inc()
		return nil
	}
	if s.Locations == nil {
		return errors.New("no location sink configured")
	}
	if err := s.Locations.Upsert(ctx, p); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	observability.LocationPingsTotal.WithLabelValues("cache").Inc()
	return nil
}
