// Package scraper polls the upstream bridge-status endpoints, normalizes
// their two JSON shapes into the snapshot schema, and drives history,
// statistics, prediction, and responsible-vessel attribution off the result.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/bridge/attribution"
	"github.com/bridgeup/bridgeup/bridge/history"
	"github.com/bridgeup/bridgeup/bridge/predict"
	"github.com/bridgeup/bridgeup/bridge/stats"
	"github.com/bridgeup/bridgeup/events"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/maintenance"
	"github.com/bridgeup/bridgeup/observability"
)

const (
	scrapeWorkers = 4

	backoffCapSeconds = 300

	oldEndpointBase = "https://seaway-greatlakes.com/bridgestatus/detailsnai?key="
	newEndpointBase = "https://www.seaway-greatlakes.com/bridgestatus/detailsmai2?key="
)

// The two upstream payload shapes. Which shape a region speaks is discovered
// at runtime and cached.
const (
	shapeOld = "old"
	shapeNew = "new"
)

var errNoData = errors.New("scrape: unrecognized payload")

// RegionEndpoints overrides the upstream URLs for one region.
type RegionEndpoints struct {
	Old string
	New string
}

// Config carries the scraper's tunables.
type Config struct {
	// Location is the timezone upstream timestamps are interpreted in.
	Location *time.Location
	// Endpoints overrides upstream URLs per region short code.
	Endpoints map[string]RegionEndpoints
	// InsecureHost names the one upstream host fetched without TLS
	// verification.
	InsecureHost string
}

// VesselSource supplies the current vessel list for attribution.
type VesselSource interface {
	Vessels() []boats.Vessel
}

// regionState is one region's scrape bookkeeping. Each tick a single worker
// owns it; Tick's in-flight guard keeps passes from overlapping.
type regionState struct {
	region    bridge.Region
	endpoints RegionEndpoints
	shape     string

	failureCount int
	nextRetry    time.Time
}

// Scraper owns the scrape loop for every configured region.
type Scraper struct {
	log     *logrus.Entry
	store   *bridge.Store
	history *history.Log
	vessels VesselSource
	maint   *maintenance.Store
	bus     *events.Bus
	obs     observability.ScrapeObserver
	clk     clock.Clock
	fetcher *fetcher
	loc     *time.Location

	regions  []regionState
	inFlight atomic.Bool

	mu             sync.Mutex
	lastTick       *time.Time
	lastSuccess    *time.Time
	lastHadChanges bool
	statsUpdated   *time.Time
}

// New returns a scraper over the fixed region roster. vessels may be nil to
// disable attribution, maint may be nil to disable overrides, and obs may be
// nil.
func New(cfg Config, store *bridge.Store, hist *history.Log, vessels VesselSource, maint *maintenance.Store, bus *events.Bus, clk clock.Clock, log *logrus.Logger, obs observability.ScrapeObserver) *Scraper {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if obs == nil {
		obs = observability.NoopScrapeObserver
	}

	s := &Scraper{
		log:     log.WithField("component", "scraper"),
		store:   store,
		history: hist,
		vessels: vessels,
		maint:   maint,
		bus:     bus,
		obs:     obs,
		clk:     clk,
		fetcher: newFetcher(cfg.InsecureHost),
		loc:     cfg.Location,
	}
	for _, r := range bridge.Regions() {
		ep, ok := cfg.Endpoints[r.Short]
		if !ok {
			ep = RegionEndpoints{
				Old: oldEndpointBase + r.Key,
				New: newEndpointBase + r.Key,
			}
		}
		s.regions = append(s.regions, regionState{
			region:    r,
			endpoints: ep,
			shape:     shapeOld,
		})
	}
	return s
}

// Tick scrapes every region once, bounded by a small worker pool. A failing
// region backs off on its own without delaying the others. A pass that finds
// another still in flight returns immediately; regionState is only touched by
// one pass at a time.
func (s *Scraper) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	var totalChanges atomic.Int64
	jobs := make(chan *regionState)
	var wg sync.WaitGroup
	for i := 0; i < scrapeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range jobs {
				totalChanges.Add(int64(s.scrapeRegion(ctx, st)))
			}
		}()
	}
	for i := range s.regions {
		jobs <- &s.regions[i]
	}
	close(jobs)
	wg.Wait()

	t := s.clk.Now()
	s.mu.Lock()
	s.lastTick = &t
	s.lastHadChanges = totalChanges.Load() > 0
	s.mu.Unlock()
}

// LastTick returns when the last scrape pass completed, whether or not
// anything changed.
func (s *Scraper) LastTick() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTick == nil {
		return time.Time{}, false
	}
	return *s.lastTick, true
}

// LastSuccess returns when any region last scraped successfully.
func (s *Scraper) LastSuccess() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSuccess == nil {
		return time.Time{}, false
	}
	return *s.lastSuccess, true
}

// LastHadChanges reports whether the most recent pass committed any change.
func (s *Scraper) LastHadChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHadChanges
}

// StatsUpdatedAt returns when statistics were last recomputed.
func (s *Scraper) StatsUpdatedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsUpdated == nil {
		return time.Time{}, false
	}
	return *s.statsUpdated, true
}

func (s *Scraper) scrapeRegion(ctx context.Context, st *regionState) int {
	now := s.clk.Now()
	if now.Before(st.nextRetry) {
		s.obs.Scrape(st.region.Short, observability.ScrapeResultBackoff, 0)
		return 0
	}

	bridges, err := s.scrapeOnce(ctx, st, now)
	elapsed := s.clk.Now().Sub(now)
	if err != nil {
		st.failureCount++
		wait := time.Duration(math.Min(math.Pow(2, float64(st.failureCount)), backoffCapSeconds)) * time.Second
		st.nextRetry = now.Add(wait)
		// Try the other shape once the backoff expires.
		s.switchShape(st)
		s.obs.Scrape(st.region.Short, observability.ScrapeResultError, elapsed)
		s.log.WithError(err).WithFields(logrus.Fields{
			"region":   st.region.Short,
			"attempt":  st.failureCount,
			"retry_in": wait,
		}).Warn("scrape failed")
		return 0
	}

	if st.failureCount > 0 {
		s.log.WithFields(logrus.Fields{
			"region":   st.region.Short,
			"failures": st.failureCount,
		}).Info("scrape recovered")
	}
	st.failureCount = 0
	st.nextRetry = time.Time{}
	s.mu.Lock()
	t := now
	s.lastSuccess = &t
	s.mu.Unlock()

	changed := s.applyRegion(st.region, bridges, now)
	s.obs.Scrape(st.region.Short, observability.ScrapeResultOK, elapsed)
	if changed > 0 {
		s.obs.BridgeChanges(changed)
		s.commit(now)
	}
	return changed
}

// scrapeOnce fetches the region's cached endpoint shape and parses the body,
// falling back to the other shape's parser when the payload turns out to have
// migrated.
func (s *Scraper) scrapeOnce(ctx context.Context, st *regionState, now time.Time) ([]rawBridge, error) {
	u := st.endpoints.Old
	primary, alternate := parseOldJSON, parseNewJSON
	if st.shape == shapeNew {
		u = st.endpoints.New
		primary, alternate = parseNewJSON, parseOldJSON
	}

	body, err := s.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", st.region.Short, err)
	}
	if bridges, ok := primary(body, now, s.loc); ok {
		return bridges, nil
	}
	if bridges, ok := alternate(body, now, s.loc); ok {
		s.switchShape(st)
		return bridges, nil
	}
	return nil, fmt.Errorf("%w: %s", errNoData, st.region.Short)
}

func (s *Scraper) switchShape(st *regionState) {
	if st.shape == shapeOld {
		st.shape = shapeNew
	} else {
		st.shape = shapeOld
	}
	s.obs.EndpointSwitch(st.region.Short)
	s.log.WithFields(logrus.Fields{
		"region": st.region.Short,
		"shape":  st.shape,
	}).Info("endpoint shape switched")
}

// applyRegion merges one region's parsed bridges into the store, returning how
// many changed observably. Unchanged bridges keep their last_updated and
// predicted values.
func (s *Scraper) applyRegion(region bridge.Region, bridges []rawBridge, now time.Time) int {
	var vessels []boats.Vessel
	if s.vessels != nil && region.BoatRegion != "" {
		vessels = s.vessels.Vessels()
	}

	changed := 0
	for _, r := range bridges {
		if r.Name == "" {
			continue
		}
		id := bridge.SanitizeID(region.Short, r.Name)
		status := bridge.ParseRawStatus(r.RawStatus)
		tracked := bridge.TrackedStatus(r.RawStatus)
		closures := predict.AnnotateClosures(r.Closures)

		// A maintenance override beats whatever the upstream claims.
		if s.maint != nil {
			active, upcoming := s.maint.ForBridge(id, now)
			if active != nil {
				status = bridge.StatusConstruction
				tracked = bridge.TrackedConstruction
			}
			for _, p := range upcoming {
				end := p.End
				closures = append(closures, bridge.Closure{
					Type:    bridge.ClosureConstruction,
					Time:    p.Start,
					EndTime: &end,
				})
			}
		}

		static := bridge.Static{
			Name:        r.Name,
			Region:      region.Name,
			RegionShort: region.Short,
		}
		if c, ok := region.CoordinatesFor(r.Name); ok {
			static.Coordinates = c
		}

		var bridgeChanged bool
		s.store.Upsert(id, static, func(e *bridge.Entry) {
			next := bridge.Live{
				Status:           status,
				LastUpdated:      now,
				UpcomingClosures: closures,
			}
			if e.Static.Coordinates != (bridge.Coordinates{}) && len(vessels) > 0 {
				next.ResponsibleVesselMMSI = attribution.Find(e.Static.Coordinates, status, region.BoatRegion, vessels)
			}

			if liveEqual(e.Live, next) {
				next.LastUpdated = e.Live.LastUpdated
				next.Predicted = e.Live.Predicted
				e.Live = next
				return
			}

			bridgeChanged = true
			next.Predicted = predict.Window(status, now, e.Static.Statistics, closures, now)
			e.Live = next
		})

		if bridgeChanged {
			changed++
			if _, err := s.history.Record(id, tracked, now); err != nil {
				s.log.WithError(err).WithField("bridge", id).Error("history update failed")
			}
		}
	}
	return changed
}

// commit persists the snapshot and then signals subscribers, in that order, so
// a woken subscriber always reads state at least as new as the signal.
func (s *Scraper) commit(now time.Time) {
	s.store.SetLastUpdated(now)
	if err := s.store.Flush(); err != nil {
		s.log.WithError(err).Error("snapshot flush failed")
	}
	if s.bus != nil {
		s.bus.Notify()
	}
}

// RecomputeStats rebuilds every bridge's statistics block from its history
// log, pruning entries that no longer contribute. Runs on the daily schedule.
func (s *Scraper) RecomputeStats() {
	start := s.clk.Now()
	snap := s.store.Snapshot()

	updated := 0
	for id := range snap.Bridges {
		entries, err := s.history.Entries(id)
		if err != nil {
			s.log.WithError(err).WithField("bridge", id).Error("history read failed")
			continue
		}
		if len(entries) == 0 {
			continue
		}
		st, pruned := stats.Compute(entries)
		if err := s.history.Rewrite(id, pruned); err != nil {
			s.log.WithError(err).WithField("bridge", id).Error("history rewrite failed")
		}
		s.store.Upsert(id, snap.Bridges[id].Static, func(e *bridge.Entry) {
			e.Static.Statistics = st
		})
		updated++
	}

	if err := s.store.Flush(); err != nil {
		s.log.WithError(err).Error("snapshot flush failed")
	}
	done := s.clk.Now()
	s.mu.Lock()
	s.statsUpdated = &done
	s.mu.Unlock()
	s.obs.StatsRecompute(done.Sub(start))
	s.log.WithField("bridges", updated).Info("statistics recomputed")
}

func liveEqual(a, b bridge.Live) bool {
	if a.Status != b.Status {
		return false
	}
	if !int64PtrEqual(a.ResponsibleVesselMMSI, b.ResponsibleVesselMMSI) {
		return false
	}
	if len(a.UpcomingClosures) != len(b.UpcomingClosures) {
		return false
	}
	for i := range a.UpcomingClosures {
		if !closureEqual(a.UpcomingClosures[i], b.UpcomingClosures[i]) {
			return false
		}
	}
	return true
}

func closureEqual(a, b bridge.Closure) bool {
	if a.Type != b.Type || a.Longer != b.Longer || !a.Time.Equal(b.Time) {
		return false
	}
	if (a.ExpectedDurationMinutes == nil) != (b.ExpectedDurationMinutes == nil) {
		return false
	}
	if a.ExpectedDurationMinutes != nil && *a.ExpectedDurationMinutes != *b.ExpectedDurationMinutes {
		return false
	}
	if (a.EndTime == nil) != (b.EndTime == nil) {
		return false
	}
	if a.EndTime != nil && !a.EndTime.Equal(*b.EndTime) {
		return false
	}
	return true
}

func int64PtrEqual(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
