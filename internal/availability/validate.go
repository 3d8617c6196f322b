package availability

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/example/hitchr-matching/internal/models"
)

const MaxNotesLength = 120

// FieldError is a validation failure for one field of a Hot Shot config.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

// Validate checks an enabled Hot Shot config. Disabled configs are stored as
// is. All failures are returned joined.
func Validate(cfg models.HotShotConfig) error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error
	add := func(field, msg string) { errs = append(errs, &FieldError{Field: field, Message: msg}) }

	if cfg.BaseLocation == nil || cfg.BaseLocation.Label == "" {
		add("baseLocation", "Base location is required")
	}
	if !inRange(cfg.MaxDistanceKm, 1, 500) {
		add("maxDistance", "Distance must be between 1-500 km")
	}
	if !inRange(cfg.MaxTimeMin, 5, 600) {
		add("maxTime", "Time must be between 5-600 minutes")
	}
	if math.IsNaN(cfg.BaseFeeCad) || cfg.BaseFeeCad < 0 {
		add("baseFee", "Fee must be 0 or greater")
	}
	if utf8.RuneCountInString(cfg.Notes) > MaxNotesLength {
		add("notes", fmt.Sprintf("Notes must be %d characters or less", MaxNotesLength))
	}
	if tz := cfg.Availability.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("timezone", "Unknown timezone "+tz)
		}
	}
	if len(cfg.Availability.Windows) == 0 {
		add("availability", "At least one availability window is required")
	}
	for i, w := range cfg.Availability.Windows {
		if len(w.Days) == 0 {
			add(fmt.Sprintf("window%dDays", i), "Select at least one day")
		}
		for _, d := range w.Days {
			if _, ok := ParseWeekday(d); !ok {
				add(fmt.Sprintf("window%dDays", i), "Unknown day "+d)
				break
			}
		}
		start, ok1 := ParseClock(w.Start)
		end, ok2 := ParseClock(w.End)
		if !ok1 || !ok2 || start >= end {
			add(fmt.Sprintf("window%dTime", i), "End time must be after start time")
		}
	}
	for _, d := range cfg.Availability.BlackoutDates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			add("blackoutDates", "Dates must be YYYY-MM-DD")
			break
		}
	}
	return errors.Join(errs...)
}

// Fields flattens a Validate error into field -> message.
func Fields(err error) map[string]string {
	out := map[string]string{}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if fe, ok := e.(*FieldError); ok {
			if _, seen := out[fe.Field]; !seen {
				out[fe.Field] = fe.Message
			}
			return
		}
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range j.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
