package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/hitchr-matching/internal/models"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("q") != "quesnel" || r.URL.Query().Get("key") != "k" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`[
			{"place_id":"101","lat":"52.9784","lon":"-122.4927","display_name":"Quesnel, BC, Canada"},
			{"place_id":102,"lat":"bad","lon":"0","display_name":"Broken"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k", nil)
	center := models.Coord{Lat: 52.9784, Lng: -122.4927}
	rs, err := c.Search(context.Background(), "  quesnel ", &center)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].PlaceID != "101" || rs[0].DistanceM != 0 {
		t.Fatalf("unexpected results %+v", rs)
	}
	if _, err := c.Search(context.Background(), " ", nil); err != ErrEmptyQuery {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestReverseCachesAndFallsBack(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"place_id":7,"lat":"51.6426","lon":"-121.296","display_name":"100 Mile House, BC"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", NewSuggestionCache(time.Minute, 50))
	ctx := context.Background()
	rs, err := c.Reverse(ctx, 51.642601, -121.296001)
	if err != nil || len(rs) != 1 || rs[0].FormattedAddress != "100 Mile House, BC" {
		t.Fatalf("unexpected reverse %+v %v", rs, err)
	}
	// same 5-decimal key
	if _, err := c.Reverse(ctx, 51.642602, -121.296002); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cache hit, got %d upstream calls", calls.Load())
	}

	fail.Store(true)
	rs, err = c.Reverse(ctx, 10, 20)
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if len(rs) != 1 || !rs[0].IsFallback || rs[0].FormattedAddress != "10.000000, 20.000000" {
		t.Fatalf("unexpected fallback %+v", rs)
	}
}

func TestSuggestionCacheEvictsOldest(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewSuggestionCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	c.Set(1, 1, []Result{{PlaceID: "a"}})
	c.Set(2, 2, []Result{{PlaceID: "b"}})
	c.Set(1, 1, []Result{{PlaceID: "a2"}})
	c.Set(3, 3, []Result{{PlaceID: "c"}})

	if _, ok := c.Get(1, 1); ok {
		t.Fatal("first inserted key should be evicted even after an update")
	}
	if got, ok := c.Get(2, 2); !ok || got[0].PlaceID != "b" {
		t.Fatal("expected second key to remain")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get(3, 3); ok {
		t.Fatal("entry should expire after the ttl")
	}
}
