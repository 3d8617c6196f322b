package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/hitchr-matching/internal/availability"
	"github.com/example/hitchr-matching/internal/dispatch"
	"github.com/example/hitchr-matching/internal/eta"
	"github.com/example/hitchr-matching/internal/geocode"
	"github.com/example/hitchr-matching/internal/matcher"
	"github.com/example/hitchr-matching/internal/models"
	"github.com/example/hitchr-matching/internal/observability"
	"github.com/example/hitchr-matching/internal/pricing"
	"github.com/example/hitchr-matching/internal/storage"
)

// ViewerHeader carries the authenticated viewer id set by the gateway. An
// empty header means a guest.
const ViewerHeader = "X-Viewer-ID"

const maxBodyBytes = 1 << 20

type Options struct {
	Matcher     *matcher.Service
	Pricing     *pricing.Engine
	ETA         *eta.RoutedCalculator
	Resolver    *availability.Resolver
	Geocoder    *geocode.Client
	WSReg       *dispatch.WSRegistry
	RadiusSteps []float64
	Clock       func() time.Time
	// Ready reports backing store health for /healthz.
	Ready func(ctx context.Context) error
}

type Server struct {
	opts   Options
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if len(opts.RadiusSteps) == 0 {
		opts.RadiusSteps = matcher.DefaultRadiusSteps
	}
	s := &Server{opts: opts, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodPost)
	api.HandleFunc("/quotes", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/eta", s.handleETA).Methods(http.MethodPost)
	api.HandleFunc("/availability", s.handleAvailability).Methods(http.MethodPost)
	api.HandleFunc("/radius/next", s.handleNextRadius).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/hotshot", s.handleHotShot).Methods(http.MethodPut)
	api.HandleFunc("/listings", s.handleSaveListing).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id}", s.handleDeleteListing).Methods(http.MethodDelete)
	api.HandleFunc("/geocode/search", s.handleGeocodeSearch).Methods(http.MethodGet)
	api.HandleFunc("/geocode/reverse", s.handleGeocodeReverse).Methods(http.MethodGet)

	s.mux.HandleFunc("/internal/locations", s.handleLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/feed", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req matcher.QueryParams
	if !s.decode(w, r, &req) {
		return
	}
	q, err := req.Query(viewerFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.opts.Matcher.Feed(r.Context(), q)
	if err != nil {
		s.fail(w, r, "feed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type quoteRequest struct {
	DistanceKm float64         `json:"distance_km"`
	Category   models.Category `json:"category"`
	Seats      int             `json:"seats"`
}

type quoteResponse struct {
	Price float64        `json:"price"`
	Picks []pricing.Pick `json:"picks"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DistanceKm < 0 {
		writeError(w, http.StatusBadRequest, "distance_km must not be negative")
		return
	}
	price := s.opts.Pricing.Calculate(req.DistanceKm, req.Category, pricing.Extra{Seats: req.Seats})
	category := req.Category
	if category == "" {
		category = models.CategoryMisc
	}
	observability.QuotesTotal.WithLabelValues(string(category)).Inc()
	writeJSON(w, http.StatusOK, quoteResponse{Price: price, Picks: pricing.QuickPicks(price)})
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	var l models.Listing
	if !s.decode(w, r, &l) {
		return
	}
	info := s.opts.ETA.Compute(r.Context(), l)
	outcome := "computed"
	if info == nil {
		outcome = "unavailable"
	}
	observability.ETAResultsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"eta": info})
}

type availabilityRequest struct {
	Schedule models.Schedule `json:"schedule"`
	At       *time.Time      `json:"at"`
}

type availabilityResponse struct {
	availability.Result
	Status  availability.Status `json:"status"`
	Summary string              `json:"summary"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	now := s.opts.Clock()
	if req.At != nil {
		now = *req.At
	}
	res := s.opts.Resolver.Compute(now, req.Schedule)
	writeJSON(w, http.StatusOK, availabilityResponse{
		Result:  res,
		Status:  res.Status(),
		Summary: availability.FormatWindows(req.Schedule.Windows),
	})
}

func (s *Server) handleNextRadius(w http.ResponseWriter, r *http.Request) {
	current := float64(matcher.DefaultRadiusKm)
	if v := r.URL.Query().Get("current"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "current must be a number")
			return
		}
		current = f
	}
	writeJSON(w, http.StatusOK, map[string]float64{"radius_km": matcher.NextRadius(current, s.opts.RadiusSteps)})
}

func (s *Server) handleHotShot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if viewerFromContext(r.Context()) != id {
		writeError(w, http.StatusForbidden, "only the driver can change their Hot Shot settings")
		return
	}
	var cfg models.HotShotConfig
	if !s.decode(w, r, &cfg) {
		return
	}
	post, err := s.opts.Matcher.PublishHotShot(r.Context(), id, cfg)
	if err != nil {
		if fields := availability.Fields(err); len(fields) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid hot shot config", "fields": fields})
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "driver not found")
			return
		}
		s.fail(w, r, "hot shot publish failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post})
}

func (s *Server) handleSaveListing(w http.ResponseWriter, r *http.Request) {
	var l models.Listing
	if !s.decode(w, r, &l) {
		return
	}
	saved, err := s.opts.Matcher.SaveListing(r.Context(), viewerFromContext(r.Context()), l)
	if err != nil {
		if errors.Is(err, matcher.ErrForbidden) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, matcher.ErrInvalidListing) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, "save listing failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.opts.Matcher.DeleteListing(r.Context(), viewerFromContext(r.Context()), id); err != nil {
		if errors.Is(err, matcher.ErrForbidden) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		s.fail(w, r, "delete listing failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGeocodeSearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "geocoder not configured")
		return
	}
	q := r.URL.Query()
	var center *models.Coord
	if c, ok := coordParams(q.Get("lat"), q.Get("lng")); ok {
		center = &c
	}
	results, err := s.opts.Geocoder.Search(r.Context(), q.Get("q"), center)
	if err != nil {
		if errors.Is(err, geocode.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("geocode search failed", "error", err)
		results = []geocode.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGeocodeReverse(w http.ResponseWriter, r *http.Request) {
	if s.opts.Geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "geocoder not configured")
		return
	}
	c, ok := coordParams(r.URL.Query().Get("lat"), r.URL.Query().Get("lng"))
	if !ok {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	results, err := s.opts.Geocoder.Reverse(r.Context(), c.Lat, c.Lng)
	if err != nil {
		s.logger.Warn("reverse geocode failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPing
	if !s.decode(w, r, &p) {
		return
	}
	if p.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.opts.Matcher.RecordPing(r.Context(), p); err != nil {
		s.logger.Error("location ping failed", "user_id", p.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "location sink unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q, err := wsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	s.opts.WSReg.Serve(r.Context(), uuid.NewString(), conn, q)
}

// wsQuery reads the initial live feed query from the URL.
func wsQuery(r *http.Request) (matcher.Query, error) {
	v := r.URL.Query()
	req := matcher.QueryParams{
		Mode:        matcher.Mode(v.Get("mode")),
		Category:    models.Category(v.Get("category")),
		HotShotOnly: v.Get("hot_shot_only") == "true",
		Sandbox:     v.Get("sandbox") == "true",
	}
	if raw := v.Get("radius_km"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return matcher.Query{}, errors.New("radius_km must be a number")
		}
		req.RadiusKm = &f
	}
	if c, ok := coordParams(v.Get("lat"), v.Get("lng")); ok {
		req.Center = &c
	}
	return req.Query(viewerFromContext(r.Context()))
}

func coordParams(lat, lng string) (models.Coord, bool) {
	if lat == "" || lng == "" {
		return models.Coord{}, false
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: la, Lng: ln}, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg, "error", err, "request_id", requestIDFromContext(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

