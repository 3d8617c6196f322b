package matcher

import (
	"errors"
	"math"
	"sort"

	"github.com/example/hitchr-matching/internal/availability"
	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/redact"
)

// Mode is what the viewer is looking for. Senders browse drivers, drivers
// browse requests.
type Mode string

const (
	ModeSender Mode = "sender"
	ModeDriver Mode = "driver"
)

var (
	DefaultCenter      = models.Coord{Lat: 51.6426, Lng: -121.2960}
	DefaultRadiusSteps = []float64{10, 25, 100, 200, 300}
)

const DefaultRadiusKm = 10

// QueryParams is the client-supplied part of a feed query, as sent in a feed
// request body or a live feed frame.
type QueryParams struct {
	Mode        Mode            `json:"mode"`
	Center      *models.Coord   `json:"center"`
	RadiusKm    *float64        `json:"radius_km"`
	Category    models.Category `json:"category"`
	HotShotOnly bool            `json:"hot_shot_only"`
	Sandbox     bool            `json:"sandbox"`
}

// Query validates p and binds it to viewer ("" for guests). A missing radius
// falls back to DefaultRadiusKm.
func (p QueryParams) Query(viewer string) (Query, error) {
	if p.Mode != ModeSender && p.Mode != ModeDriver {
		return Query{}, errors.New("mode must be sender or driver")
	}
	radius := float64(DefaultRadiusKm)
	if p.RadiusKm != nil {
		if *p.RadiusKm < 0 || math.IsNaN(*p.RadiusKm) {
			return Query{}, errors.New("radius_km must not be negative")
		}
		radius = *p.RadiusKm
	}
	return Query{
		Mode:          p.Mode,
		Center:        p.Center,
		RadiusKm:      radius,
		Category:      p.Category,
		HotShotOnly:   p.HotShotOnly,
		Sandbox:       p.Sandbox,
		Authenticated: viewer != "",
		ViewerID:      viewer,
	}, nil
}

type Query struct {
	Mode          Mode            `json:"mode"`
	Center        *models.Coord   `json:"center,omitempty"`
	RadiusKm      float64         `json:"radius_km"`
	Category      models.Category `json:"category"`
	HotShotOnly   bool            `json:"hot_shot_only"`
	Sandbox       bool            `json:"sandbox"`
	Authenticated bool            `json:"-"`
	ViewerID      string          `json:"-"`
}

// Match is a listing that survived the filters, with its distances from the
// search center and display annotations.
type Match struct {
	Listing        models.Listing       `json:"listing"`
	DistanceKm     *float64             `json:"distance_km"`
	OriginKm       *float64             `json:"origin_distance_km"`
	DestKm         *float64             `json:"dest_distance_km"`
	Priority       bool                 `json:"hot_shot_priority"`
	ETA            *models.ETAInfo      `json:"eta"`
	SuggestedPrice float64              `json:"suggested_price"`
	HotShotStatus  *availability.Status `json:"hot_shot_status,omitempty"`

	sortKm float64
	// stored is the listing as loaded, before guest redaction.
	stored models.Listing
}

// SortKm is the distance used for ordering; +Inf when unknown.
func (m *Match) SortKm() float64 { return m.sortKm }

// Counts are the number of listings left after each stage.
type Counts struct {
	Raw           int `json:"raw"`
	AfterRadius   int `json:"after_radius"`
	AfterCategory int `json:"after_category"`
	AfterHotShot  int `json:"after_hot_shot"`
	Final         int `json:"final"`
}

type Result struct {
	Center  models.Coord `json:"center"`
	Matches []*Match     `json:"matches"`
	Counts  Counts       `json:"counts"`
}

// Pipeline filters, orders and redacts listings around a search center.
type Pipeline struct {
	DefaultCenter models.Coord
	Redactor      *redact.Redactor
}

func NewPipeline(center models.Coord, r *redact.Redactor) *Pipeline {
	if r == nil {
		r = redact.New(nil)
	}
	return &Pipeline{DefaultCenter: center, Redactor: r}
}

// Run applies the radius, category and Hot Shot filters in that order, sorts
// the survivors and redacts them for guests. annotate, when set, is called on
// every final match after redaction; the unredacted listing stays reachable
// for lookups keyed on real coordinates.
func (p *Pipeline) Run(listings []models.Listing, q Query, annotate func(*Match)) Result {
	center := p.DefaultCenter
	if q.Center != nil {
		center = *q.Center
	}
	res := Result{Center: center, Matches: []*Match{}}
	res.Counts.Raw = len(listings)

	stage := make([]*Match, 0, len(listings))
	for _, l := range listings {
		if m, ok := withinRadius(l, q, center); ok {
			stage = append(stage, m)
		}
	}
	res.Counts.AfterRadius = len(stage)

	if q.Category != "" && q.Category != models.CategoryAll {
		stage = keep(stage, func(m *Match) bool { return servesCategory(m.Listing, q.Category) })
	}
	res.Counts.AfterCategory = len(stage)

	if q.HotShotOnly {
		stage = keep(stage, func(m *Match) bool { return urgent(m.Listing) })
	}
	res.Counts.AfterHotShot = len(stage)
	res.Counts.Final = len(stage)

	sort.SliceStable(stage, func(i, j int) bool {
		a, b := stage[i], stage[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		return a.sortKm < b.sortKm
	})

	for _, m := range stage {
		m.stored = m.Listing
		if !q.Authenticated {
			m.Listing = p.Redactor.Listing(m.Listing)
		}
		if annotate != nil {
			annotate(m)
		}
	}
	res.Matches = stage
	return res
}

func withinRadius(l models.Listing, q Query, center models.Coord) (*Match, bool) {
	if q.Mode == ModeSender && l.HotShotPost() {
		zero := 0.0
		return &Match{Listing: l, Priority: true, DistanceKm: &zero}, true
	}
	origin, okOrigin, dest, okDest := endpoints(l)
	m := &Match{Listing: l, sortKm: math.Inf(1)}
	if okOrigin {
		d := geo.Between(center, origin)
		m.OriginKm = &d
		m.sortKm = d
	}
	if okDest {
		d := geo.Between(center, dest)
		m.DestKm = &d
		if d < m.sortKm {
			m.sortKm = d
		}
	}
	if !math.IsInf(m.sortKm, 1) {
		d := m.sortKm
		m.DistanceKm = &d
	}
	in := (m.OriginKm != nil && *m.OriginKm <= q.RadiusKm) || (m.DestKm != nil && *m.DestKm <= q.RadiusKm)
	return m, in
}

// endpoints resolves the origin and destination a listing is matched on.
// Drivers without a route origin fall back to their current position.
func endpoints(l models.Listing) (origin models.Coord, okOrigin bool, dest models.Coord, okDest bool) {
	switch l.Kind {
	case models.KindRequest:
		if r := l.Request; r != nil {
			origin, okOrigin = models.Point(r.PickupLat, r.PickupLng)
			dest, okDest = models.Point(r.DropoffLat, r.DropoffLng)
		}
	case models.KindDriver:
		if a := l.Availability; a != nil {
			origin, okOrigin = models.Point(a.FromLat, a.FromLng)
			dest, okDest = models.Point(a.ToLat, a.ToLng)
		}
		if !okOrigin && l.Driver != nil {
			origin, okOrigin = models.Point(l.Driver.CurrentLat, l.Driver.CurrentLng)
		}
	}
	return
}

// Categories lists what a driver listing carries: the availability's
// capacities when set, otherwise the categories on the driver profile.
func Categories(l models.Listing) []models.Category {
	if l.Availability != nil && l.Availability.Capacities != nil {
		return l.Availability.Capacities
	}
	if l.Driver != nil {
		return l.Driver.CategoriesServed
	}
	return nil
}

func servesCategory(l models.Listing, c models.Category) bool {
	switch l.Kind {
	case models.KindRequest:
		return l.Request != nil && l.Request.ItemType == c
	case models.KindDriver:
		for _, have := range Categories(l) {
			if have == c {
				return true
			}
		}
	}
	return false
}

func urgent(l models.Listing) bool {
	switch l.Kind {
	case models.KindRequest:
		r := l.Request
		return r != nil && (r.Urgency == models.UrgencyASAP || r.Urgency == models.UrgencyHotShot || r.IsHotShot)
	case models.KindDriver:
		return (l.Availability != nil && l.Availability.HotShot) || (l.Driver != nil && l.Driver.HotShotCapable)
	}
	return false
}

func keep(in []*Match, pred func(*Match) bool) []*Match {
	out := in[:0]
	for _, m := range in {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

// NextRadius returns the step after current, wrapping around. A radius that
// is not one of the steps moves to the first step.
func NextRadius(current float64, steps []float64) float64 {
	if len(steps) == 0 {
		return current
	}
	idx := -1
	for i, s := range steps {
		if s == current {
			idx = i
			break
		}
	}
	return steps[(idx+1)%len(steps)]
}
