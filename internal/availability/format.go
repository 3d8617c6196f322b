package availability

import (
	"strings"
	"time"

	"github.com/example/hitchr-matching/internal/models"
)

const (
	StatusAvailable   = "available"
	StatusNext        = "next"
	StatusUnavailable = "unavailable"
)

// Status is the badge shown on a Hot Shot card.
type Status struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	ColorClass string `json:"colorClass"`
}

// FormatStatus renders availability for display. Times are shown in their own
// location.
func FormatStatus(availableNow bool, availableUntil, nextAvailable *time.Time) Status {
	if availableNow && availableUntil != nil {
		return Status{
			Type:       StatusAvailable,
			Text:       "Available now until " + availableUntil.Format("3:04 PM"),
			ColorClass: "bg-green-100 text-green-800",
		}
	}
	if nextAvailable != nil {
		return Status{
			Type:       StatusNext,
			Text:       "Next available: " + nextAvailable.Format("Mon 3:04 PM"),
			ColorClass: "bg-blue-100 text-blue-800",
		}
	}
	return Status{
		Type:       StatusUnavailable,
		Text:       "No availability set",
		ColorClass: "bg-gray-100 text-gray-600",
	}
}

func (r Result) Status() Status {
	return FormatStatus(r.AvailableNow, r.AvailableUntil, r.NextAvailable)
}

// FormatWindows summarises a weekly schedule on one line.
func FormatWindows(windows []models.AvailabilityWindow) string {
	if len(windows) == 0 {
		return "No schedule set"
	}
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		parts = append(parts, strings.Join(w.Days, ", ")+": "+w.Start+"-"+w.End)
	}
	return strings.Join(parts, " • ")
}
