package pricing

import (
	"fmt"
	"math"
)

type Pick struct {
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
	Suggested bool    `json:"suggested,omitempty"`
}

var defaultPicks = []float64{15, 25, 40}

// QuickPicks offers the suggested price plus a cheaper and a pricier option
// rounded to the nearest 5. Without a suggestion it offers fixed amounts.
func QuickPicks(suggested float64) []Pick {
	if suggested <= 0 {
		out := make([]Pick, 0, len(defaultPicks))
		for _, v := range defaultPicks {
			out = append(out, Pick{Label: money(v), Value: v})
		}
		return out
	}
	picks := []Pick{{Label: "Suggested: " + money(suggested), Value: suggested, Suggested: true}}
	lower := math.Max(5, Round(suggested*0.8/5)*5)
	higher := Round(suggested*1.2/5) * 5
	if lower != suggested {
		picks = append(picks, Pick{Label: money(lower), Value: lower})
	}
	if higher != suggested {
		picks = append(picks, Pick{Label: money(higher), Value: higher})
	}
	return picks
}

func money(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("$%.0f", v)
	}
	return fmt.Sprintf("$%.2f", v)
}
