package geo

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/example/hitchr-matching/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	if DistanceKm(51.6426, -121.2960, 51.6426, -121.2960) != 0 {
		t.Fatalf("expected zero distance for identical points")
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{51.6426, -121.2960, 49.2827, -123.1207},
		{-33.8688, 151.2093, 40.7128, -74.0060},
		{0, 179.9, 0, -179.9},
		{95, 10, -100, 400}, // out of range input is tolerated
	}
	for _, p := range pairs {
		ab := DistanceKm(p[0], p[1], p[2], p[3])
		ba := DistanceKm(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric distance %v: %f vs %f", p, ab, ba)
		}
		if ab < 0 || math.IsNaN(ab) {
			t.Fatalf("expected non-negative distance for %v, got %f", p, ab)
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of latitude is ~111.19 km on a 6371 km sphere
	d := DistanceKm(0, 0, 1, 0)
	if math.Abs(d-111.195) > 0.01 {
		t.Fatalf("expected ~111.195km, got %f", d)
	}
	if m := Haversine(0, 0, 1, 0); math.Abs(m-d*1000) > 1e-6 {
		t.Fatalf("meter variant disagrees: %f vs %f", m, d*1000)
	}
}

func TestIndexKeepsNewestPing(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_ = idx.Upsert(ctx, models.LocationPing{UserID: "u1", Lat: 1, Lng: 1, Timestamp: now})
	_ = idx.Upsert(ctx, models.LocationPing{UserID: "u1", Lat: 2, Lng: 2, Timestamp: now.Add(-time.Minute)})
	p, ok, err := idx.Last(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected ping, ok=%v err=%v", ok, err)
	}
	if p.Lat != 1 {
		t.Fatalf("stale ping overwrote newer one: %+v", p)
	}
	if _, ok, _ := idx.Last(ctx, "nobody"); ok {
		t.Fatalf("expected no ping for unknown user")
	}
}

func TestMoved(t *testing.T) {
	a := models.LocationPing{Lat: 51.0, Lng: -121.0}
	b := models.LocationPing{Lat: 51.0001, Lng: -121.0} // ~11m
	if Moved(a, b, 30) {
		t.Fatalf("11m should be under a 30m threshold")
	}
	c := models.LocationPing{Lat: 51.001, Lng: -121.0} // ~111m
	if !Moved(a, c, 30) {
		t.Fatalf("111m should exceed a 30m threshold")
	}
}
