package geocode

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultSuggestionTTL = time.Minute
	DefaultSuggestionMax = 50
	keyDecimals          = 5
)

// SuggestionCache holds reverse lookups for nearby points. Keys are
// coordinates rounded to 5 decimals (about a metre). When full, the entry
// inserted first is evicted.
type SuggestionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]suggestionEntry
	order   []string
	now     func() time.Time
}

type suggestionEntry struct {
	results []Result
	ts      time.Time
}

func NewSuggestionCache(ttl time.Duration, max int) *SuggestionCache {
	if ttl <= 0 {
		ttl = DefaultSuggestionTTL
	}
	if max <= 0 {
		max = DefaultSuggestionMax
	}
	return &SuggestionCache{ttl: ttl, max: max, entries: make(map[string]suggestionEntry), now: time.Now}
}

func SuggestionKey(lat, lng float64) string {
	return fmt.Sprintf("%.*f,%.*f", keyDecimals, lat, keyDecimals, lng)
}

func (c *SuggestionCache) Get(lat, lng float64) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[SuggestionKey(lat, lng)]
	if !ok || c.now().Sub(e.ts) >= c.ttl {
		return nil, false
	}
	return e.results, true
}

func (c *SuggestionCache) Set(lat, lng float64, results []Result) {
	k := SuggestionKey(lat, lng)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[k]; !exists {
		c.order = append(c.order, k)
	}
	c.entries[k] = suggestionEntry{results: results, ts: c.now()}
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *SuggestionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
