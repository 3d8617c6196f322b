package pricing

import (
	"testing"

	"github.com/example/hitchr-matching/internal/models"
)

func TestCalculate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	cases := []struct {
		name     string
		distance float64
		category models.Category
		extra    Extra
		want     float64
	}{
		{"beer run at zero distance", 0, models.CategoryBeerRun, Extra{}, 42},        // (25+0+10)*1.2
		{"beer run adds addon and surcharge", 100, models.CategoryBeerRun, Extra{}, 84}, // (25+35+10)*1.2
		{"rideshare three seats", 10, models.CategoryRideshare, Extra{Seats: 3}, 14},
		{"rideshare defaults to one seat", 100, models.CategoryRideshare, Extra{}, 35},
		{"rideshare floor", 1, models.CategoryRideshare, Extra{Seats: 1}, 10},
		{"misc floor", 0, models.CategoryMisc, Extra{}, 10},
		{"empty category prices as misc", 100, "", Extra{}, 35},
		{"firewood addon", 100, models.CategoryFirewood, Extra{}, 45},
		{"special transport addon", 10, models.CategorySpecialTransport, Extra{}, 29}, // 3.5+25=28.5
		{"heavy haul", 50, models.CategoryHeavyHaul, Extra{}, 33},                     // 17.5+15=32.5
		{"unknown category", 100, "spaceship", Extra{}, 35},
		{"negative distance still floors", -500, models.CategoryFood, Extra{}, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.Calculate(tc.distance, tc.category, tc.extra); got != tc.want {
				t.Fatalf("Calculate(%v, %q, %+v) = %v, want %v", tc.distance, tc.category, tc.extra, got, tc.want)
			}
		})
	}
}

func TestFloorHoldsExceptBeerRun(t *testing.T) {
	e := NewEngine(DefaultConfig())
	cats := []models.Category{
		models.CategoryGroceries, models.CategoryParcels, models.CategoryFood,
		models.CategoryPassengers, models.CategoryRetail, models.CategoryMisc,
		models.CategoryLiquids, models.CategoryAutoParts, models.CategoryRideshare,
	}
	for _, c := range cats {
		for d := 0.0; d <= 40; d += 0.5 {
			if p := e.Calculate(d, c, Extra{}); p < 10 {
				t.Fatalf("price %v below floor for %s at %vkm", p, c, d)
			}
		}
	}

	cfg := DefaultConfig()
	cfg.BeerRunBase = 0
	cfg.Addons[models.CategoryBeerRun] = 0
	if p := NewEngine(cfg).Calculate(1, models.CategoryBeerRun, Extra{}); p != 0 {
		t.Fatalf("beer run should not be floored, got %v", p)
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[float64]float64{13.5: 14, 12.5: 13, 0.49: 0, -2.5: -2, -2.6: -3}
	for in, want := range cases {
		if got := Round(in); got != want {
			t.Fatalf("Round(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseRatePerKm = 1
	cfg.FloorPrice = 50
	e := NewEngine(cfg)
	if got := e.Calculate(20, models.CategoryMisc, Extra{}); got != 50 {
		t.Fatalf("expected custom floor 50, got %v", got)
	}
	if got := e.Calculate(80, models.CategoryMisc, Extra{}); got != 80 {
		t.Fatalf("expected custom rate, got %v", got)
	}
}

func TestEngineOwnsAddons(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	cfg.Addons[models.CategoryHeavyHaul] = 1000
	// 20 km at 0.35/km plus the 15 heavy haul addon
	if got := e.Calculate(20, models.CategoryHeavyHaul, Extra{}); got != 22 {
		t.Fatalf("caller mutation leaked into the engine, got %v", got)
	}
	e.Config().Addons[models.CategoryHeavyHaul] = 1000
	if got := e.Calculate(20, models.CategoryHeavyHaul, Extra{}); got != 22 {
		t.Fatalf("Config() exposed the engine's addons, got %v", got)
	}
}

func TestQuickPicks(t *testing.T) {
	picks := QuickPicks(30)
	if len(picks) != 3 {
		t.Fatalf("expected 3 picks, got %+v", picks)
	}
	if !picks[0].Suggested || picks[0].Label != "Suggested: $30" {
		t.Fatalf("unexpected suggested pick %+v", picks[0])
	}
	if picks[1].Value != 25 || picks[2].Value != 35 {
		t.Fatalf("unexpected neighbours %+v", picks)
	}

	// both neighbours round back to the suggestion and are dropped
	if picks := QuickPicks(10); len(picks) != 1 {
		t.Fatalf("expected only the suggested pick, got %+v", picks)
	}

	def := QuickPicks(0)
	if len(def) != 3 || def[0].Value != 15 || def[1].Value != 25 || def[2].Value != 40 {
		t.Fatalf("unexpected default picks %+v", def)
	}
}
