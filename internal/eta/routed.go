package eta

import (
	"context"
	"log/slog"

	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/models"
)

// RoutedCalculator refines the straight-line estimate with a routing engine.
// Any routing failure falls back to the straight-line estimate.
type RoutedCalculator struct {
	Base   *Calculator
	Router Router
	Cache  *Cache
	Logger *slog.Logger
}

func (r *RoutedCalculator) Compute(ctx context.Context, l models.Listing) *models.ETAInfo {
	return r.ComputeFor(ctx, l, l)
}

// ComputeFor builds the estimate shown for display but asks the router (and
// its cache) about the trip of stored. The two differ when display is a
// redacted copy whose coordinates are jittered per request.
func (r *RoutedCalculator) ComputeFor(ctx context.Context, display, stored models.Listing) *models.ETAInfo {
	trip, ok := Resolve(display)
	if !ok {
		return nil
	}
	if r.Router == nil {
		return r.Base.Compute(display)
	}
	route, ok := Resolve(stored)
	if !ok {
		return r.Base.Compute(display)
	}
	distanceKm := geo.Between(trip.From, trip.To)
	if r.Cache != nil {
		if v, ok := r.Cache.Get(route.From, route.To); ok {
			return r.Base.build(trip, distanceKm, v, RoutedTag)
		}
	}
	secs, err := r.Router.EstimateSeconds(ctx, route.From, route.To)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("routing failed, using straight-line estimate", "listing_id", stored.ID(), "error", err)
		}
		return r.Base.Compute(display)
	}
	if r.Cache != nil {
		r.Cache.Set(route.From, route.To, secs)
	}
	return r.Base.build(trip, distanceKm, secs, RoutedTag)
}
