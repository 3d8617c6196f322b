package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/hitchr-matching/internal/matcher"
	"github.com/example/hitchr-matching/internal/observability"
)

const (
	DefaultRefresh = 10 * time.Second
	writeWait      = 5 * time.Second
)

var ErrNoSession = errors.New("no ws session")

// FeedFunc computes a feed for a session's current query.
type FeedFunc func(ctx context.Context, q matcher.Query) (matcher.Result, error)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Frame is what a session pushes to its client.
type Frame struct {
	Type   string          `json:"type"`
	Result *matcher.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WSSession is one connected viewer. The client may send a new query at any
// time; the feed is recomputed on every query change and every refresh tick.
type WSSession struct {
	ID   string
	conn Conn
	mu   sync.Mutex

	qmu   sync.Mutex
	query matcher.Query
}

func (s *WSSession) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *WSSession) Query() matcher.Query {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return s.query
}

func (s *WSSession) setQuery(q matcher.Query) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	s.query = q
}

// WSRegistry holds live feed sessions.
type WSRegistry struct {
	Feed    FeedFunc
	Refresh time.Duration
	Logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(feed FeedFunc, refresh time.Duration, logger *slog.Logger) *WSRegistry {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{Feed: feed, Refresh: refresh, Logger: logger, sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) add(id string, conn Conn, q matcher.Query) *WSSession {
	s := &WSSession{ID: id, conn: conn, query: q}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	observability.FeedSessions.Inc()
	return s
}

func (r *WSRegistry) remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		observability.FeedSessions.Dec()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Push recomputes and sends the feed of one session.
func (r *WSRegistry) Push(ctx context.Context, id string) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return r.push(ctx, s)
}

func (r *WSRegistry) push(ctx context.Context, s *WSSession) error {
	res, err := r.Feed(ctx, s.Query())
	if err != nil {
		r.Logger.Warn("feed refresh failed", "session_id", s.ID, "error", err)
		return s.Send(Frame{Type: "error", Error: "feed unavailable"})
	}
	return s.Send(Frame{Type: "feed", Result: &res})
}

// Serve runs a session until the client disconnects or ctx is done. The
// initial query is pushed immediately. Client frames carry
// matcher.QueryParams; an invalid frame gets an error frame and the session
// keeps its previous query.
func (r *WSRegistry) Serve(ctx context.Context, id string, conn Conn, q matcher.Query) {
	s := r.add(id, conn, q)
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.remove(id)
		_ = conn.Close()
	}()

	updates := make(chan matcher.QueryParams)
	go func() {
		defer cancel()
		for {
			var next matcher.QueryParams
			if err := conn.ReadJSON(&next); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					r.Logger.Debug("ws read ended", "session_id", id, "error", err)
				}
				return
			}
			select {
			case updates <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := r.push(ctx, s); err != nil {
		return
	}
	ticker := time.NewTicker(r.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case params := <-updates:
			// identity comes from the handshake, never from the client frame
			next, err := params.Query(s.Query().ViewerID)
			if err != nil {
				if err := s.Send(Frame{Type: "error", Error: err.Error()}); err != nil {
					return
				}
				continue
			}
			s.setQuery(next)
		case <-ticker.C:
		}
		if err := r.push(ctx, s); err != nil {
			r.Logger.Debug("ws write failed", "session_id", id, "error", err)
			return
		}
	}
}
