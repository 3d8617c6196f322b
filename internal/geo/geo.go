package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/hitchr-matching/internal/models"
)

const (
	EarthRadiusKm     = 6371.0
	EarthRadiusMeters = 6371000.0
)

// DistanceKm is the great-circle distance in kilometres. Inputs are degrees
// and are not range checked.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return greatCircle(lat1, lon1, lat2, lon2, EarthRadiusKm)
}

// Haversine distance in meters. Only the location ping path works in meters;
// everything that compares against a radius or prices a trip uses DistanceKm.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return greatCircle(lat1, lon1, lat2, lon2, EarthRadiusMeters)
}

// Between is DistanceKm for two coordinates.
func Between(a, b models.Coord) float64 {
	return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func greatCircle(lat1, lon1, lat2, lon2, radius float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return radius * c
}

// Locations stores the last reported position per user.
type Locations interface {
	Upsert(ctx context.Context, p models.LocationPing) error
	Last(ctx context.Context, userID string) (models.LocationPing, bool, error)
}

// Index is the in-memory Locations used when Redis is not configured.
type Index struct {
	mu    sync.RWMutex
	users map[string]models.LocationPing
}

func NewIndex() *Index {
	return &Index{users: make(map[string]models.LocationPing)}
}

func (g *Index) Upsert(_ context.Context, p models.LocationPing) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.users[p.UserID]; ok && prev.Timestamp.After(p.Timestamp) {
		return nil
	}
	g.users[p.UserID] = p
	return nil
}

func (g *Index) Last(_ context.Context, userID string) (models.LocationPing, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.users[userID]
	return p, ok, nil
}

// Moved reports whether next is at least thresholdMeters away from prev.
// Pings below the threshold only refresh the timestamp.
func Moved(prev, next models.LocationPing, thresholdMeters float64) bool {
	return Haversine(prev.Lat, prev.Lng, next.Lat, next.Lng) >= thresholdMeters
}
