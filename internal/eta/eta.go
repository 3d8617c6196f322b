package eta

import (
	"strings"
	"time"

	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/pricing"
)

const (
	DefaultSpeedKmh = 70.0
	EstimateTag     = "(estimate)"
	RoutedTag       = "(± ~10m)"
)

// Calculator derives straight-line trip estimates from listings.
type Calculator struct {
	SpeedKmh float64
}

func NewCalculator(speedKmh float64) *Calculator {
	return &Calculator{SpeedKmh: speedKmh}
}

// Trip is the resolved geometry and timing of a listing.
type Trip struct {
	From, To       models.Coord
	FromAddress    string
	ToAddress      string
	DepartAt       time.Time
	ReturnDepartAt *time.Time
}

// Resolve extracts the trip of a listing. ok is false when no departure time
// is known or any coordinate is missing.
func Resolve(l models.Listing) (Trip, bool) {
	var (
		t      Trip
		depart *time.Time
		from   models.Coord
		to     models.Coord
		okFrom bool
		okTo   bool
	)
	switch l.Kind {
	case models.KindDriver:
		a := l.Availability
		if a == nil {
			return Trip{}, false
		}
		depart = firstTime(a.DepartAt, a.WindowStart)
		from, okFrom = models.Point(a.FromLat, a.FromLng)
		to, okTo = models.Point(a.ToLat, a.ToLng)
		t.FromAddress, t.ToAddress = a.FromAddress, a.ToAddress
		t.ReturnDepartAt = a.ReturnDepartAt
	case models.KindRequest:
		r := l.Request
		if r == nil {
			return Trip{}, false
		}
		depart = firstTime(r.DeliverBy, r.ReadyBy, r.ReadyAt)
		from, okFrom = models.Point(r.PickupLat, r.PickupLng)
		to, okTo = models.Point(r.DropoffLat, r.DropoffLng)
		t.FromAddress, t.ToAddress = r.PickupAddress, r.DropoffAddress
	default:
		return Trip{}, false
	}
	if depart == nil || !okFrom || !okTo {
		return Trip{}, false
	}
	t.DepartAt, t.From, t.To = *depart, from, to
	return t, true
}

// Compute returns the estimate for a listing, or nil when it cannot be derived.
func (c *Calculator) Compute(l models.Listing) *models.ETAInfo {
	trip, ok := Resolve(l)
	if !ok {
		return nil
	}
	distanceKm := geo.Between(trip.From, trip.To)
	return c.build(trip, distanceKm, EstimateSeconds(distanceKm, c.speed()), EstimateTag)
}

func (c *Calculator) build(trip Trip, distanceKm, seconds float64, tag string) *models.ETAInfo {
	etaAt := trip.DepartAt.Add(time.Duration(seconds * float64(time.Second)))
	return &models.ETAInfo{
		OriginName:     PlaceName(trip.FromAddress, "Origin"),
		DestName:       PlaceName(trip.ToAddress, "Destination"),
		DepartAt:       trip.DepartAt,
		EtaAt:          &etaAt,
		ReturnDepartAt: trip.ReturnDepartAt,
		BufferTag:      tag,
		DistanceKm:     pricing.Round(distanceKm),
	}
}

func (c *Calculator) speed() float64 {
	if c == nil || c.SpeedKmh <= 0 {
		return DefaultSpeedKmh
	}
	return c.SpeedKmh
}

// EstimateSeconds is the travel time at a constant average speed.
func EstimateSeconds(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return distanceKm / speedKmh * 3600
}

// PlaceName is the part of an address before the first comma.
func PlaceName(address, fallback string) string {
	name, _, _ := strings.Cut(address, ",")
	if name == "" {
		return fallback
	}
	return name
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			return t
		}
	}
	return nil
}
