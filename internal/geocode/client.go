// Package geocode talks to a LocationIQ/Nominatim compatible geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/hitchr-matching/internal/geo"
	"github.com/example/hitchr-matching/internal/models"
)

const (
	maxSuggestions = 5
	providerName   = "locationiq"
)

var ErrEmptyQuery = errors.New("empty search query")

// Result is one address candidate.
type Result struct {
	FormattedAddress string  `json:"formatted_address"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	PlaceID          string  `json:"place_id"`
	Provider         string  `json:"provider"`
	DistanceM        float64 `json:"distance_m"`
	IsFallback       bool    `json:"is_fallback,omitempty"`
}

type Client struct {
	Endpoint string
	Key      string
	HTTP     *http.Client
	Cache    *SuggestionCache
}

func NewClient(endpoint, key string, cache *SuggestionCache) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Key:      key,
		HTTP:     &http.Client{Timeout: 3 * time.Second},
		Cache:    cache,
	}
}

type place struct {
	PlaceID     json.RawMessage `json:"place_id"`
	Lat         string          `json:"lat"`
	Lon         string          `json:"lon"`
	DisplayName string          `json:"display_name"`
}

// Search resolves free text to candidates, nearest to center first when a
// center is given.
func (c *Client) Search(ctx context.Context, query string, center *models.Coord) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	params := url.Values{"q": {query}, "format": {"json"}, "limit": {strconv.Itoa(maxSuggestions)}}
	var places []place
	if err := c.get(ctx, "/search", params, &places); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(places))
	for _, p := range places {
		r, ok := p.result()
		if !ok {
			continue
		}
		if center != nil {
			r.DistanceM = geo.Haversine(center.Lat, center.Lng, r.Lat, r.Lng)
		}
		out = append(out, r)
	}
	return out, nil
}

// Reverse lists addresses near a point. Lookup failures degrade to a single
// coordinate-only result so callers always have something to show.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) ([]Result, error) {
	if c.Cache != nil {
		if rs, ok := c.Cache.Get(lat, lng); ok {
			return rs, nil
		}
	}
	params := url.Values{
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lng, 'f', -1, 64)},
		"format": {"json"},
	}
	var p place
	if err := c.get(ctx, "/reverse", params, &p); err != nil {
		return []Result{Fallback(lat, lng)}, err
	}
	r, ok := p.result()
	if !ok {
		return []Result{Fallback(lat, lng)}, nil
	}
	r.DistanceM = geo.Haversine(lat, lng, r.Lat, r.Lng)
	out := []Result{r}
	if c.Cache != nil {
		c.Cache.Set(lat, lng, out)
	}
	return out, nil
}

// Fallback is the coordinate-only result used when no address is known.
func Fallback(lat, lng float64) Result {
	return Result{
		FormattedAddress: fmt.Sprintf("%.6f, %.6f", lat, lng),
		Lat:              lat,
		Lng:              lng,
		PlaceID:          "coords",
		Provider:         providerName,
		IsFallback:       true,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	if c.Key != "" {
		params.Set("key", c.Key)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("geocoder %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoder %s status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("geocoder %s decode: %w", path, err)
	}
	return nil
}

func (p place) result() (Result, bool) {
	lat, err1 := strconv.ParseFloat(p.Lat, 64)
	lng, err2 := strconv.ParseFloat(p.Lon, 64)
	if err1 != nil || err2 != nil || p.DisplayName == "" {
		return Result{}, false
	}
	return Result{
		FormattedAddress: p.DisplayName,
		Lat:              lat,
		Lng:              lng,
		PlaceID:          strings.Trim(string(p.PlaceID), `"`),
		Provider:         providerName,
	}, true
}
