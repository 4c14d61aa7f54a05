package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/internal/clock"
)

type fakeScraper struct {
	tick       time.Time
	success    time.Time
	hadChanges bool
	stats      time.Time
}

func (f *fakeScraper) LastTick() (time.Time, bool)       { return f.tick, !f.tick.IsZero() }
func (f *fakeScraper) LastSuccess() (time.Time, bool)    { return f.success, !f.success.IsZero() }
func (f *fakeScraper) LastHadChanges() bool              { return f.hadChanges }
func (f *fakeScraper) StatsUpdatedAt() (time.Time, bool) { return f.stats, !f.stats.IsZero() }

type fakeClients int

func (f fakeClients) ClientCount() int { return int(f) }

type apiHarness struct {
	server  *Server
	store   *bridge.Store
	scraper *fakeScraper
	clk     *clock.Fixed
	handler http.Handler
}

func newAPIHarness(t *testing.T, cfg Config) *apiHarness {
	t.Helper()

	// Mid-June: navigation season, 24 h activity threshold.
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{T: now}
	store := bridge.NewStore(filepath.Join(t.TempDir(), "bridges.json"))
	scraper := &fakeScraper{tick: now, success: now}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	boatsFn := func(at time.Time) boats.Payload {
		return boats.BuildPayload(nil, nil, at)
	}

	server := New(cfg, store, boatsFn, scraper, fakeClients(3), nil, time.UTC, clk, log)
	return &apiHarness{
		server:  server,
		store:   store,
		scraper: scraper,
		clk:     clk,
		handler: server.Handler(nil, nil),
	}
}

func (h *apiHarness) get(t *testing.T, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:55000"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestBridgesReturnsSnapshotWithCacheHeader(t *testing.T) {
	h := newAPIHarness(t, Config{})

	rec := h.get(t, "/bridges", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=10", rec.Header().Get("Cache-Control"))

	var snap bridge.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotEmpty(t, snap.Bridges)
	require.NotEmpty(t, snap.AvailableBridges)
}

func TestBridgeByIDAndNotFound(t *testing.T) {
	h := newAPIHarness(t, Config{})

	rec := h.get(t, "/bridges/SCT_LakeshoreRd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var e bridge.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	require.Equal(t, "Lakeshore Rd", e.Static.Name)

	rec = h.get(t, "/bridges/no_such_bridge", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoatsReturnsPayload(t *testing.T) {
	h := newAPIHarness(t, Config{})

	rec := h.get(t, "/boats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload boats.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 0, payload.VesselCount)
}

func TestHealthAllSystemsOperational(t *testing.T) {
	h := newAPIHarness(t, Config{})
	h.scraper.hadChanges = true
	h.store.SetLastUpdated(h.clk.Now().Add(-time.Hour))

	rec := h.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "All systems operational", resp.StatusMessage)
	require.Equal(t, "ok", resp.SeawayStatus)
	require.Equal(t, "ok", resp.BridgeActivity)
	require.True(t, resp.LastScrapeHadChanges)
	require.NotNil(t, resp.LastScrape)
	require.NotNil(t, resp.LastUpdated)
	require.Equal(t, 3, resp.WebsocketClients)
	require.NotZero(t, resp.BridgesCount)
}

func TestHealthErrorsWhenScraperStuck(t *testing.T) {
	h := newAPIHarness(t, Config{})
	h.clk.Advance(7 * time.Minute)

	rec := h.get(t, "/health", nil)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
	require.Contains(t, resp.StatusMessage, "has not run in 7 minutes")
}

func TestHealthSeawayDegradesAfterGrace(t *testing.T) {
	h := newAPIHarness(t, Config{})
	h.scraper.success = h.clk.Now().Add(-15 * time.Minute)

	rec := h.get(t, "/health", nil)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.SeawayStatus)
}

func TestHealthActivityWarningIsSeasonal(t *testing.T) {
	h := newAPIHarness(t, Config{})

	// 30 h without a change trips the 24 h in-season threshold.
	h.store.SetLastUpdated(h.clk.Now().Add(-30 * time.Hour))
	rec := h.get(t, "/health", nil)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "warning", resp.BridgeActivity)
	require.Equal(t, "warning", resp.Status)
	require.Contains(t, resp.StatusMessage, "unusual inactivity")

	// The same gap in January is normal winter quiet.
	h.clk.T = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	h.scraper.tick = h.clk.T
	h.store.SetLastUpdated(h.clk.Now().Add(-30 * time.Hour))
	rec = h.get(t, "/health", nil)
	resp = healthResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.BridgeActivity)
}

func TestInNavigationSeasonBoundaries(t *testing.T) {
	cases := []struct {
		t    time.Time
		want bool
	}{
		{time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, inNavigationSeason(c.t), c.t.Format(time.DateOnly))
	}
}

func TestRateLimitTripsWith429AndRetryAfter(t *testing.T) {
	h := newAPIHarness(t, Config{DataPerMinute: 3})

	for i := 0; i < 3; i++ {
		rec := h.get(t, "/boats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := h.get(t, "/boats", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitIsPerIP(t *testing.T) {
	h := newAPIHarness(t, Config{DataPerMinute: 2})

	h.get(t, "/boats", nil)
	h.get(t, "/boats", nil)
	rec := h.get(t, "/boats", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client keeps its own budget. The rightmost forwarded hop
	// identifies it.
	rec = h.get(t, "/boats", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIPPrefersRightmostForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/boats", nil)
	req.RemoteAddr = "10.0.0.1:55000"
	require.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 203.0.113.9")
	require.Equal(t, "203.0.113.9", clientIP(req))
}
