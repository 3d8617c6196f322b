package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the coordinate for a nullable lat/lng pair. ok is false when
// either half is missing.
func Point(lat, lng *float64) (Coord, bool) {
	if lat == nil || lng == nil {
		return Coord{}, false
	}
	return Coord{Lat: *lat, Lng: *lng}, true
}

// Float is a small helper for building nullable coordinates.
func Float(v float64) *float64 { return &v }

// Category is the item type of a request or a capacity a driver serves.
type Category string

const (
	CategoryGroceries        Category = "groceries"
	CategoryParcels          Category = "parcels"
	CategoryFood             Category = "food"
	CategoryAutoParts        Category = "auto_parts"
	CategoryHeavyHaul        Category = "heavy_haul"
	CategorySpecialTransport Category = "special_transport"
	CategoryLiquids          Category = "liquids"
	CategoryPassengers       Category = "passengers"
	CategoryRetail           Category = "retail"
	CategoryFirewood         Category = "firewood"
	CategoryMisc             Category = "misc"
	CategoryBeerRun          Category = "beer_run"
	CategoryRideshare        Category = "rideshare"

	// CategoryAll disables category filtering.
	CategoryAll Category = "all"
)

// Kind discriminates the Listing union.
type Kind string

const (
	KindRequest Kind = "request"
	KindDriver  Kind = "driver"
)

// Listing is either a sender's delivery request or a driver's posted
// availability joined with the driver's profile. Exactly one side is set,
// according to Kind.
type Listing struct {
	Kind         Kind                `json:"kind"`
	Request      *DeliveryRequest    `json:"request,omitempty"`
	Availability *DriverAvailability `json:"availability,omitempty"`
	Driver       *DriverProfile      `json:"driver,omitempty"`
}

func RequestListing(r *DeliveryRequest) Listing {
	return Listing{Kind: KindRequest, Request: r}
}

func DriverListing(a *DriverAvailability, d *DriverProfile) Listing {
	return Listing{Kind: KindDriver, Availability: a, Driver: d}
}

// ID returns the identifier of the underlying record.
func (l Listing) ID() string {
	switch l.Kind {
	case KindRequest:
		if l.Request != nil {
			return l.Request.ID
		}
	case KindDriver:
		if l.Availability != nil {
			return l.Availability.ID
		}
		if l.Driver != nil {
			return l.Driver.ID
		}
	}
	return ""
}

// OwnerID is the user who may edit or remove the listing: the poster of a
// request or the driver behind an availability.
func (l Listing) OwnerID() string {
	switch l.Kind {
	case KindRequest:
		if l.Request != nil {
			return l.Request.PosterID
		}
	case KindDriver:
		if l.Availability != nil {
			return l.Availability.DriverProfileID
		}
	}
	return ""
}

// HotShotPost reports whether the listing is a driver availability posted as
// a Hot Shot offer.
func (l Listing) HotShotPost() bool {
	return l.Kind == KindDriver && l.Availability != nil && l.Availability.HotShot
}

const (
	RequestStatusOpen        = "open"
	AvailabilityStatusActive = "active"
	AvailabilityStatusPaused = "paused"

	UrgencyASAP    = "ASAP"
	UrgencyHotShot = "Hot Shot"
)

type DeliveryRequest struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	IsTestData     bool       `json:"is_test_data,omitempty"`
	PosterID       string     `json:"sender_profile_id,omitempty"`
	PosterName     string     `json:"poster_name,omitempty"`
	PickupAddress  string     `json:"pickup_address"`
	PickupLat      *float64   `json:"pickup_latitude"`
	PickupLng      *float64   `json:"pickup_longitude"`
	DropoffAddress string     `json:"dropoff_address"`
	DropoffLat     *float64   `json:"dropoff_latitude"`
	DropoffLng     *float64   `json:"dropoff_longitude"`
	ItemType       Category   `json:"item_type"`
	Seats          int        `json:"seats,omitempty"`
	OfferedPrice   float64    `json:"offered_price,omitempty"`
	Urgency        string     `json:"urgency,omitempty"`
	IsHotShot      bool       `json:"is_hot_shot,omitempty"`
	DeliverBy      *time.Time `json:"deliver_by,omitempty"`
	ReadyBy        *time.Time `json:"ready_by,omitempty"`
	ReadyAt        *time.Time `json:"ready_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type DriverAvailability struct {
	ID               string         `json:"id"`
	DriverProfileID  string         `json:"driver_profile_id"`
	Status           string         `json:"status"`
	IsTestData       bool           `json:"is_test_data,omitempty"`
	FromAddress      string         `json:"from_address"`
	FromLat          *float64       `json:"from_latitude"`
	FromLng          *float64       `json:"from_longitude"`
	ToAddress        string         `json:"to_address"`
	ToLat            *float64       `json:"to_latitude"`
	ToLng            *float64       `json:"to_longitude"`
	DepartAt         *time.Time     `json:"depart_at,omitempty"`
	WindowStart      *time.Time     `json:"window_start,omitempty"`
	ReturnDepartAt   *time.Time     `json:"return_depart_at,omitempty"`
	RecurringPattern string         `json:"recurring_pattern,omitempty"`
	Capacities       []Category     `json:"capacities"`
	VehicleType      string         `json:"vehicle_type,omitempty"`
	MinFee           float64        `json:"min_fee,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	HotShot          bool           `json:"hot_shot"`
	HotShotConfig    *HotShotConfig `json:"hot_shot_config,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type DriverProfile struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	FullName         string         `json:"full_name,omitempty"`
	Email            string         `json:"email,omitempty"`
	VehicleType      string         `json:"vehicle_type,omitempty"`
	CategoriesServed []Category     `json:"categories_served"`
	BaseFee          float64        `json:"base_fee,omitempty"`
	HotShotCapable   bool           `json:"hot_shot_capable,omitempty"`
	CurrentLat       *float64       `json:"current_latitude"`
	CurrentLng       *float64       `json:"current_longitude"`
	IsTestData       bool           `json:"is_test_data,omitempty"`
	HotShot          *HotShotConfig `json:"hotshot,omitempty"`
}

// DisplayName prefers the short name and falls back to the full name.
func (d *DriverProfile) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.FullName
}

type Place struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

type AvailabilityWindow struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

type Schedule struct {
	Timezone      string               `json:"timezone"`
	Windows       []AvailabilityWindow `json:"windows"`
	BlackoutDates []string             `json:"blackoutDates"`
}

// HotShotConfig is owned by a driver profile. A copy is embedded on the
// availability listing when the driver publishes, together with the
// availability status computed at that moment.
type HotShotConfig struct {
	Enabled       bool     `json:"enabled"`
	PostID        string   `json:"postId,omitempty"`
	BaseLocation  *Place   `json:"baseLocation,omitempty"`
	MaxDistanceKm float64  `json:"maxDistanceKm"`
	MaxTimeMin    float64  `json:"maxTimeMin"`
	BaseFeeCad    float64  `json:"baseFeeCad"`
	Notes         string   `json:"notes"`
	Availability  Schedule `json:"availability"`

	AvailableNow   bool       `json:"availableNow,omitempty"`
	AvailableUntil *time.Time `json:"availableUntil,omitempty"`
	NextAvailable  *time.Time `json:"nextAvailable,omitempty"`
}

// ETAInfo is the normalized trip descriptor shown next to a listing.
type ETAInfo struct {
	OriginName     string     `json:"origin_name"`
	DestName       string     `json:"dest_name"`
	DepartAt       time.Time  `json:"depart_at"`
	EtaAt          *time.Time `json:"eta_at"`
	ReturnDepartAt *time.Time `json:"return_depart_at"`
	BufferTag      string     `json:"buffer_tag"`
	DistanceKm     float64    `json:"distance_km"`
}

// LocationPing is a viewer's reported position.
type LocationPing struct {
	UserID    string    `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"ts"`
}

func (p LocationPing) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

// FreshAt reports whether the ping is younger than maxAge at now.
func (p LocationPing) FreshAt(now time.Time, maxAge time.Duration) bool {
	return !p.Timestamp.IsZero() && now.Sub(p.Timestamp) <= maxAge
}
