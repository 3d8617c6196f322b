// Package redact hides identifying details of listings from guests. It is a
// display aid only; guests must never be sent data they are not allowed to see.
package redact

import (
	"math/rand/v2"
	"strings"

	"github.com/example/hitchr-matching/internal/models"
)

const (
	jitterMin   = 0.0015
	jitterRange = 0.0005
)

// Name shortens "John Smith" to "John S.". Single names and non-guest viewers
// are left alone.
func Name(fullName string, guest bool) string {
	if !guest || fullName == "" {
		return fullName
	}
	parts := strings.Split(strings.TrimSpace(fullName), " ")
	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	initial := ""
	if last != "" {
		initial = strings.ToUpper(string([]rune(last)[:1]))
	}
	return parts[0] + " " + initial + "."
}

// Address keeps only the last two comma separated components.
func Address(address string, guest bool) string {
	if !guest || address == "" {
		return address
	}
	parts := strings.Split(address, ",")
	if len(parts) >= 2 {
		return strings.TrimSpace(strings.Join(parts[len(parts)-2:], ","))
	}
	return address
}

// Redactor applies guest redaction with an injectable random source.
type Redactor struct {
	rand func() float64
}

// New returns a Redactor. A nil source uses math/rand/v2.
func New(source func() float64) *Redactor {
	if source == nil {
		source = rand.Float64
	}
	return &Redactor{rand: source}
}

// Jitter moves a point by up to ±0.002 degrees per axis. Missing halves are
// returned unchanged.
func (r *Redactor) Jitter(lat, lng *float64, guest bool) (*float64, *float64) {
	if !guest || lat == nil || lng == nil {
		return lat, lng
	}
	amount := jitterMin + r.rand()*jitterRange
	jLat := *lat + (r.rand()-0.5)*amount*2
	jLng := *lng + (r.rand()-0.5)*amount*2
	return &jLat, &jLng
}

// Listing returns a copy of l with names, addresses and coordinates
// obfuscated for a guest viewer. The input is not modified.
func (r *Redactor) Listing(l models.Listing) models.Listing {
	switch l.Kind {
	case models.KindRequest:
		if l.Request == nil {
			return l
		}
		req := *l.Request
		req.PosterName = Name(req.PosterName, true)
		req.PickupAddress = Address(req.PickupAddress, true)
		req.DropoffAddress = Address(req.DropoffAddress, true)
		req.PickupLat, req.PickupLng = r.Jitter(req.PickupLat, req.PickupLng, true)
		if req.DropoffLat != nil && req.DropoffLng != nil {
			req.DropoffLat, req.DropoffLng = r.Jitter(req.DropoffLat, req.DropoffLng, true)
		} else {
			req.DropoffLat, req.DropoffLng = nil, nil
		}
		l.Request = &req
	case models.KindDriver:
		var startLat, startLng, endLat, endLng *float64
		if l.Driver != nil {
			startLat, startLng = l.Driver.CurrentLat, l.Driver.CurrentLng
		}
		if l.Availability != nil {
			if startLat == nil {
				startLat = l.Availability.FromLat
			}
			if startLng == nil {
				startLng = l.Availability.FromLng
			}
			endLat, endLng = l.Availability.ToLat, l.Availability.ToLng
		}
		startLat, startLng = r.Jitter(startLat, startLng, true)
		endLat, endLng = r.Jitter(endLat, endLng, true)

		if l.Driver != nil {
			d := *l.Driver
			name, full := d.Name, d.FullName
			d.Name = Name(firstNonEmpty(name, full), true)
			d.FullName = Name(firstNonEmpty(full, name), true)
			d.Email = ""
			d.HotShot = nil
			d.CurrentLat, d.CurrentLng = startLat, startLng
			l.Driver = &d
		}
		if l.Availability != nil {
			a := *l.Availability
			a.FromAddress = Address(a.FromAddress, true)
			a.ToAddress = Address(a.ToAddress, true)
			a.FromLat, a.FromLng = startLat, startLng
			a.ToLat, a.ToLng = endLat, endLng
			if a.HotShotConfig != nil {
				hs := *a.HotShotConfig
				hs.BaseLocation = nil
				hs.Notes = ""
				a.HotShotConfig = &hs
			}
			l.Availability = &a
		}
	}
	return l
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
