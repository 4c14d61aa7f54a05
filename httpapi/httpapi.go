// Package httpapi is the HTTP fallback surface: the same snapshot and vessel
// payloads the websocket pushes, plus health for monitors. Handlers are thin
// reads over the store and registry; all writes happen elsewhere.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/maintenance"
)

// Documented rate-limit and caching defaults.
const (
	DefaultDataPerMinute   = 60
	DefaultStaticPerMinute = 30
	DefaultCacheMaxAge     = 10 * time.Second
)

// Config carries the gateway tunables. Zero values take the defaults above.
type Config struct {
	DataPerMinute   int
	StaticPerMinute int
	CacheMaxAge     time.Duration
}

// BoatsPayloadFunc supplies the current boats payload.
type BoatsPayloadFunc func(now time.Time) boats.Payload

// ScrapeStatus exposes the scraper's freshness signals for /health.
type ScrapeStatus interface {
	LastTick() (time.Time, bool)
	LastSuccess() (time.Time, bool)
	LastHadChanges() bool
	StatsUpdatedAt() (time.Time, bool)
}

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// Server builds the HTTP mux.
type Server struct {
	log     *logrus.Entry
	store   *bridge.Store
	boatsFn BoatsPayloadFunc
	scraper ScrapeStatus
	clients ClientCounter
	maint   *maintenance.Store
	clk     clock.Clock
	loc     *time.Location

	cacheMaxAge time.Duration
	dataLimit   *ipLimiter
	staticLimit *ipLimiter
}

// New returns a gateway server. maint may be nil.
func New(cfg Config, store *bridge.Store, boatsFn BoatsPayloadFunc, scraper ScrapeStatus, clients ClientCounter, maint *maintenance.Store, loc *time.Location, clk clock.Clock, log *logrus.Logger) *Server {
	if cfg.DataPerMinute <= 0 {
		cfg.DataPerMinute = DefaultDataPerMinute
	}
	if cfg.StaticPerMinute <= 0 {
		cfg.StaticPerMinute = DefaultStaticPerMinute
	}
	if cfg.CacheMaxAge <= 0 || cfg.CacheMaxAge > DefaultCacheMaxAge {
		cfg.CacheMaxAge = DefaultCacheMaxAge
	}
	return &Server{
		log:         log.WithField("component", "httpapi"),
		store:       store,
		boatsFn:     boatsFn,
		scraper:     scraper,
		clients:     clients,
		maint:       maint,
		clk:         clk,
		loc:         loc,
		cacheMaxAge: cfg.CacheMaxAge,
		dataLimit:   newIPLimiter(cfg.DataPerMinute),
		staticLimit: newIPLimiter(cfg.StaticPerMinute),
	}
}

// Handler builds the mux. ws handles websocket upgrades and metrics serves
// the Prometheus registry; either may be nil to leave the route unmounted.
func (s *Server) Handler(ws, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bridges", s.dataLimit.wrap(s.handleBridges))
	mux.HandleFunc("GET /bridges/{id}", s.dataLimit.wrap(s.handleBridge))
	mux.HandleFunc("GET /boats", s.dataLimit.wrap(s.handleBoats))
	mux.HandleFunc("GET /health", s.staticLimit.wrap(s.handleHealth))
	if ws != nil {
		mux.Handle("/ws", ws)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.cacheMaxAge.Seconds())))
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("response write failed")
	}
}

func (s *Server) handleBridges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Snapshot())
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	e, ok := s.store.Entry(r.PathValue("id"))
	if !ok {
		http.Error(w, "bridge not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, e)
}

func (s *Server) handleBoats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.boatsFn(s.clk.Now()))
}
