package ws

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifylog/internal/record"
	"notifylog/internal/stream"
	logx "notifylog/pkg/logx"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxReadBytes = 4096
)

// Options configures the HTTP surface.
type Options struct {
	// WSPath is the websocket endpoint, "/ws/logs" by default.
	WSPath string
	// AllowedOrigins lists browser origins allowed to connect. Empty allows
	// same-origin requests only; "*" allows any origin.
	AllowedOrigins []string
	Log            logx.Logger
}

// Server serves the streaming endpoint and the JSON API.
type Server struct {
	m        *stream.Manager
	log      logx.Logger
	upgrader websocket.Upgrader
	wsPath   string
}

func NewServer(m *stream.Manager, opt Options) *Server {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	path := opt.WSPath
	if path == "" {
		path = "/ws/logs"
	}
	s := &Server{
		m:      m,
		log:    log.With(logx.String("comp", "ws")),
		wsPath: path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	if origins := opt.AllowedOrigins; len(origins) > 0 {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		}
	}
	return s
}

// Handler returns the routes:
//
//	GET {ws_path}?history=N   websocket stream, history first
//	GET /api/logs/history?limit=N
//	GET /api/logs/stats
//	GET /healthz
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(s.wsPath, s.serveWS)
	r.Route("/api/logs", func(r chi.Router) {
		r.Get("/history", s.serveHistory)
		r.Get("/stats", s.serveStats)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": s.m.Running()})
	})
	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "history")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	c := newClient(uuid.NewString(), conn)
	log := s.log.With(logx.String("client", c.ID), logx.String("remote", r.RemoteAddr))
	defer func() {
		s.m.RemoveClient(c)
		_ = conn.Close()
		log.Debug("websocket client disconnected")
	}()

	// History goes out before registration so it always precedes live records.
	if err := s.m.SendHistory(r.Context(), c, limit); err != nil {
		log.Debug("history send failed", logx.Err(err))
		return
	}
	s.m.AddClient(c)
	log.Debug("websocket client connected", logx.Int("history", limit))

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := c.ping(defaultWriteWait); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", logx.Err(err))
			}
			return
		}
	}
}

func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, record.NewHistory(s.m.History(limit)))
}

func (s *Server) serveStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.Stats())
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &queryError{key: key, raw: raw}
	}
	return n, nil
}

type queryError struct{ key, raw string }

func (e *queryError) Error() string {
	return "invalid " + e.key + " " + strconv.Quote(e.raw) + ": want a non-negative integer"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
