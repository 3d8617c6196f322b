// Package availability resolves whether a Hot Shot driver is available from
// their weekly windows and blackout dates.
package availability

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/example/hitchr-matching/internal/models"
)

const (
	DefaultTimezone      = "America/Vancouver"
	DefaultLookaheadDays = 14

	dateLayout = "2006-01-02"
)

// Result is the availability of a schedule at one instant.
type Result struct {
	AvailableNow   bool       `json:"availableNow"`
	AvailableUntil *time.Time `json:"availableUntil,omitempty"`
	NextAvailable  *time.Time `json:"nextAvailable"`
}

// Resolver evaluates schedules. The current time is always passed in.
type Resolver struct {
	LookaheadDays   int
	DefaultLocation *time.Location
}

// NewResolver builds a resolver whose schedules without a valid timezone are
// evaluated in defaultTZ. An unknown defaultTZ falls back to UTC.
func NewResolver(lookaheadDays int, defaultTZ string) *Resolver {
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil || defaultTZ == "" {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	return &Resolver{LookaheadDays: lookaheadDays, DefaultLocation: loc}
}

// Location resolves an IANA zone name, falling back to the resolver default.
func (r *Resolver) Location(tz string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if r.DefaultLocation != nil {
		return r.DefaultLocation
	}
	return time.UTC
}

// Compute reports whether the schedule is open at now. When it is not, the
// earliest window start within the lookahead is returned as NextAvailable.
func (r *Resolver) Compute(now time.Time, s models.Schedule) Result {
	windows := parseWindows(s.Windows)
	if len(windows) == 0 {
		return Result{}
	}
	local := now.In(r.Location(s.Timezone))
	blackout := make(map[string]struct{}, len(s.BlackoutDates))
	for _, d := range s.BlackoutDates {
		blackout[strings.TrimSpace(d)] = struct{}{}
	}

	if _, out := blackout[local.Format(dateLayout)]; !out {
		minute := local.Hour()*60 + local.Minute()
		for _, w := range windows {
			if w.days[local.Weekday()] && minute >= w.start && minute <= w.end {
				until := atMinute(local, w.end)
				return Result{AvailableNow: true, AvailableUntil: &until}
			}
		}
	}
	return Result{NextAvailable: r.next(local, windows, blackout)}
}

func (r *Resolver) next(now time.Time, windows []window, blackout map[string]struct{}) *time.Time {
	lookahead := r.LookaheadDays
	if lookahead <= 0 {
		lookahead = DefaultLookaheadDays
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for offset := 0; offset < lookahead; offset++ {
		day := midnight.AddDate(0, 0, offset)
		if _, out := blackout[day.Format(dateLayout)]; out {
			continue
		}
		var best *time.Time
		for _, w := range windows {
			if !w.days[day.Weekday()] {
				continue
			}
			start := atMinute(day, w.start)
			if start.After(now) && (best == nil || start.Before(*best)) {
				best = &start
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}

type window struct {
	days       [7]bool
	start, end int
}

// parseWindows drops windows whose clock values cannot be parsed.
func parseWindows(in []models.AvailabilityWindow) []window {
	out := make([]window, 0, len(in))
	for _, w := range in {
		start, ok1 := ParseClock(w.Start)
		end, ok2 := ParseClock(w.End)
		if !ok1 || !ok2 {
			continue
		}
		pw := window{start: start, end: end}
		for _, d := range w.Days {
			if wd, ok := ParseWeekday(d); ok {
				pw.days[wd] = true
			}
		}
		out = append(out, pw)
	}
	return out
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ParseWeekday accepts "Mon" as well as "monday".
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.ToLower(wd.String()[:3]) == s[:3] {
			return wd, true
		}
	}
	return 0, false
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
