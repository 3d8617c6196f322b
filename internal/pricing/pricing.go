// Package pricing computes suggested fares for deliveries and rides.
package pricing

import (
	"maps"
	"math"

	"github.com/example/hitchr-matching/internal/models"
)

// Config holds the business parameters of the fare formula.
type Config struct {
	BaseRatePerKm    float64
	FloorPrice       float64
	BeerRunBase      float64
	BeerRunSurcharge float64 // multiplier applied to the whole beer run total
	RidesharePerSeat float64
	Addons           map[models.Category]float64
}

func DefaultConfig() Config {
	return Config{
		BaseRatePerKm:    0.35,
		FloorPrice:       10,
		BeerRunBase:      25,
		BeerRunSurcharge: 1.2,
		RidesharePerSeat: 5,
		Addons: map[models.Category]float64{
			models.CategoryGroceries:        0,
			models.CategoryParcels:          0,
			models.CategoryFood:             0,
			models.CategoryAutoParts:        5,
			models.CategoryHeavyHaul:        15,
			models.CategorySpecialTransport: 25,
			models.CategoryLiquids:          5,
			models.CategoryPassengers:       0,
			models.CategoryRetail:           0,
			models.CategoryFirewood:         10,
			models.CategoryMisc:             0,
			models.CategoryBeerRun:          10,
			models.CategoryRideshare:        0,
		},
	}
}

// Extra carries category specific inputs.
type Extra struct {
	Seats int `json:"seats,omitempty"`
}

type Engine struct {
	cfg Config
}

// NewEngine copies cfg, so later changes to the caller's Addons map do not
// reach the engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Addons == nil {
		cfg.Addons = DefaultConfig().Addons
	} else {
		cfg.Addons = maps.Clone(cfg.Addons)
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Addons = maps.Clone(e.cfg.Addons)
	return cfg
}

// Calculate returns the suggested price for a trip of distanceKm. An empty
// category prices as misc and unknown categories carry no addon. Beer runs
// always include the after-hours surcharge and ignore the floor price.
func (e *Engine) Calculate(distanceKm float64, category models.Category, extra Extra) float64 {
	if category == "" {
		category = models.CategoryMisc
	}
	base := distanceKm * e.cfg.BaseRatePerKm

	switch category {
	case models.CategoryBeerRun:
		total := e.cfg.BeerRunBase + base + e.cfg.Addons[category]
		return Round(total * e.cfg.BeerRunSurcharge)
	case models.CategoryRideshare:
		seats := extra.Seats
		if seats < 1 {
			seats = 1
		}
		total := base + float64(seats-1)*e.cfg.RidesharePerSeat
		return math.Max(Round(total), e.cfg.FloorPrice)
	default:
		total := base + e.cfg.Addons[category]
		return math.Max(Round(total), e.cfg.FloorPrice)
	}
}

// Round rounds half-way values up toward positive infinity, so 13.5 -> 14 and
// -2.5 -> -2.
func Round(v float64) float64 {
	return math.Floor(v + 0.5)
}
