// Command bridgeupd serves real-time St. Lawrence Seaway bridge status: it
// scrapes the upstream status endpoints, tracks nearby vessels over AIS, and
// fans the merged picture out over WebSocket and plain HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/ingest"
	"github.com/bridgeup/bridgeup/boats/registry"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/bridge/history"
	"github.com/bridgeup/bridgeup/bridge/scraper"
	"github.com/bridgeup/bridgeup/events"
	"github.com/bridgeup/bridgeup/fanout"
	"github.com/bridgeup/bridgeup/httpapi"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/internal/cmdutil"
	"github.com/bridgeup/bridgeup/maintenance"
	"github.com/bridgeup/bridgeup/observability"
	"github.com/bridgeup/bridgeup/observability/prom"
	"github.com/bridgeup/bridgeup/scheduler"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Job cadences. The scrape tick slows down overnight; the AIS poll interval is
// pinned just above the upstream's one-call-per-minute limit.
const (
	scrapeDayInterval   = 20 * time.Second
	scrapeNightInterval = 30 * time.Second
	statsHour           = 3
	cleanupInterval     = 5 * time.Minute
	aishubInterval      = 61 * time.Second
	boatProbeInterval   = 5 * time.Second

	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	timezone := cmdutil.EnvString("BRIDGEUP_TIMEZONE", "America/Toronto")
	listen := cmdutil.EnvString("BRIDGEUP_LISTEN", ":8000")
	snapshotPath := cmdutil.EnvString("BRIDGEUP_SNAPSHOT_PATH", "data/bridges.json")
	historyDir := cmdutil.EnvString("BRIDGEUP_HISTORY_DIR", "data/history")
	maintenancePath := cmdutil.EnvString("BRIDGEUP_MAINTENANCE_PATH", "data/maintenance.json")
	aishubKey := cmdutil.EnvString("BRIDGEUP_AISHUB_API_KEY", "")
	aishubURL := cmdutil.EnvString("BRIDGEUP_AISHUB_URL", "")
	insecureHost := cmdutil.EnvString("BRIDGEUP_TLS_SKIP_VERIFY_HOST", "")
	logLevel := cmdutil.EnvString("BRIDGEUP_LOG_LEVEL", "info")

	udpEnabled, err := cmdutil.EnvBool("BRIDGEUP_AIS_UDP_ENABLED", true)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_AIS_UDP_ENABLED: %v\n", err)
		return 2
	}
	udpPort, err := cmdutil.EnvInt("BRIDGEUP_AIS_UDP_PORT", 10110)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_AIS_UDP_PORT: %v\n", err)
		return 2
	}
	stationMap, err := cmdutil.EnvStringMap("BRIDGEUP_AIS_UDP_STATION_MAP")
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_AIS_UDP_STATION_MAP: %v\n", err)
		return 2
	}
	dataPerMinute, err := cmdutil.EnvInt("BRIDGEUP_RATE_LIMIT_DATA", httpapi.DefaultDataPerMinute)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_RATE_LIMIT_DATA: %v\n", err)
		return 2
	}
	staticPerMinute, err := cmdutil.EnvInt("BRIDGEUP_RATE_LIMIT_STATIC", httpapi.DefaultStaticPerMinute)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_RATE_LIMIT_STATIC: %v\n", err)
		return 2
	}
	cacheMaxAge, err := cmdutil.EnvDuration("BRIDGEUP_CACHE_MAX_AGE", httpapi.DefaultCacheMaxAge)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_CACHE_MAX_AGE: %v\n", err)
		return 2
	}
	metricsEnabled, err := cmdutil.EnvBool("BRIDGEUP_METRICS_ENABLED", true)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_METRICS_ENABLED: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("bridgeupd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "listen address (env: BRIDGEUP_LISTEN)")
	fs.StringVar(&timezone, "timezone", timezone, "local zone for schedules and upstream timestamps (env: BRIDGEUP_TIMEZONE)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "bridgeupd %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "invalid BRIDGEUP_LOG_LEVEL: %v\n", err)
		return 2
	}
	logger.SetLevel(level)

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Fprintf(stderr, "invalid timezone %q: %v\n", timezone, err)
		return 2
	}
	clk := clock.System(loc)

	store := bridge.NewStore(snapshotPath)
	if err := store.Load(); err != nil {
		logger.WithError(err).Warn("snapshot load failed, starting fresh")
	}
	hist, err := history.NewLog(historyDir)
	if err != nil {
		fmt.Fprintf(stderr, "history dir: %v\n", err)
		return 1
	}

	reg := registry.New()
	for ip, id := range stationMap {
		reg.AssignStation(ip, id)
	}
	maint := maintenance.NewStore(maintenancePath, loc, logger)
	bus := events.NewBus()

	var metricsHandler http.Handler
	scrapeObs := observability.NewAtomicScrapeObserver()
	ingestObs := observability.NewAtomicIngestObserver()
	fanoutObs := observability.NewAtomicFanoutObserver()
	if metricsEnabled {
		promReg := prom.NewRegistry()
		scrapeObs.Set(prom.NewScrapeObserver(promReg))
		ingestObs.Set(prom.NewIngestObserver(promReg))
		fanoutObs.Set(prom.NewFanoutObserver(promReg))
		metricsHandler = prom.Handler(promReg)
	}

	scr := scraper.New(scraper.Config{
		Location:     loc,
		Endpoints:    regionEndpointsFromEnv(),
		InsecureHost: insecureHost,
	}, store, hist, reg, maint, bus, clk, logger, scrapeObs)

	var poller *ingest.AISHubPoller
	if aishubKey != "" {
		poller = ingest.NewAISHubPoller(ingest.AISHubConfig{
			APIKey: aishubKey,
			URL:    aishubURL,
		}, reg, clk, logger, ingestObs)
	} else {
		logger.Info("aishub poller disabled (no api key)")
	}

	boatsFn := func(now time.Time) boats.Payload {
		status := &boats.FeedStatus{UDP: udpFeedStatus(reg, now)}
		if poller != nil {
			status.AISHub = poller.Status()
		}
		return boats.BuildPayload(reg.Vessels(), status, now)
	}

	hub := fanout.New(store, boatsFn, bus, clk, logger, fanoutObs)

	api := httpapi.New(httpapi.Config{
		DataPerMinute:   dataPerMinute,
		StaticPerMinute: staticPerMinute,
		CacheMaxAge:     cacheMaxAge,
	}, store, boatsFn, scr, hub, maint, loc, clk, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	if udpEnabled {
		listener := ingest.NewUDPListener(reg, clk, logger, ingestObs)
		go func() {
			if err := listener.Run(ctx, udpPort); err != nil {
				logger.WithError(err).Error("ais udp listener failed")
			}
		}()
	}

	sched := scheduler.New(loc, logger)
	sched.DayNight(ctx, "scrape", scrapeDayInterval, scrapeNightInterval, scr.Tick)
	sched.Daily(ctx, "stats", statsHour, 0, func(context.Context) { scr.RecomputeStats() })
	sched.Every(ctx, "cleanup", cleanupInterval, func(context.Context) {
		if n := reg.Cleanup(clk.Now()); n > 0 {
			ingestObs.VesselsEvicted(n)
		}
		ingestObs.VesselCount(reg.Len())
	})
	if poller != nil {
		sched.Every(ctx, "aishub", aishubInterval, poller.Poll)
	}
	sched.Every(ctx, "boat_probe", boatProbeInterval, func(context.Context) { hub.ProbeBoats() })

	// Prime the snapshot before the first timer fires.
	go scr.Tick(ctx)

	srv := newHTTPServer(listen, api.Handler(hub, metricsHandler))
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{
		"listen":  listen,
		"version": version,
	}).Info("bridgeupd started")

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			exit = 1
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
	<-hubDone
	sched.Wait()
	if err := store.Flush(); err != nil {
		logger.WithError(err).Warn("final snapshot flush failed")
	}
	logger.Info("bridgeupd stopped")
	return exit
}

// regionEndpointsFromEnv reads per-region upstream URL overrides, e.g.
// BRIDGEUP_ENDPOINT_SCT_OLD / BRIDGEUP_ENDPOINT_SCT_NEW. Both URLs must be
// given for an override to apply; regions without one keep the built-in
// endpoints.
func regionEndpointsFromEnv() map[string]scraper.RegionEndpoints {
	out := make(map[string]scraper.RegionEndpoints)
	for _, r := range bridge.Regions() {
		key := strings.ToUpper(r.Short)
		oldURL := cmdutil.EnvString("BRIDGEUP_ENDPOINT_"+key+"_OLD", "")
		newURL := cmdutil.EnvString("BRIDGEUP_ENDPOINT_"+key+"_NEW", "")
		if oldURL == "" || newURL == "" {
			continue
		}
		out[r.Short] = scraper.RegionEndpoints{Old: oldURL, New: newURL}
	}
	return out
}

// udpFeedStatus adapts the registry's station map to the payload shape.
func udpFeedStatus(reg *registry.Registry, now time.Time) map[string]any {
	out := make(map[string]any)
	for id, st := range reg.StationStatuses(now) {
		out[id] = st
	}
	return out
}
