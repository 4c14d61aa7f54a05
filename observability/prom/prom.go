package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bridgeup/bridgeup/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ScrapeObserver exports scraper metrics to Prometheus.
type ScrapeObserver struct {
	scrapeTotal    *prometheus.CounterVec
	scrapeDuration prometheus.Histogram
	changesTotal   prometheus.Counter
	endpointSwitch *prometheus.CounterVec
	statsDuration  prometheus.Histogram
}

// NewScrapeObserver registers scraper metrics on the registry.
func NewScrapeObserver(reg *prometheus.Registry) *ScrapeObserver {
	o := &ScrapeObserver{
		scrapeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_scrape_total",
			Help: "Upstream scrape attempts by region and result.",
		}, []string{"region", "result"}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgeup_scrape_duration_seconds",
			Help:    "Upstream scrape latency.",
			Buckets: prometheus.DefBuckets,
		}),
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgeup_bridge_changes_total",
			Help: "Observable bridge changes committed to the snapshot.",
		}),
		endpointSwitch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_endpoint_switch_total",
			Help: "Upstream endpoint shape rediscoveries by region.",
		}, []string{"region"}),
		statsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgeup_stats_recompute_duration_seconds",
			Help:    "Daily statistics recompute latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		o.scrapeTotal,
		o.scrapeDuration,
		o.changesTotal,
		o.endpointSwitch,
		o.statsDuration,
	)
	return o
}

func (o *ScrapeObserver) Scrape(region string, result observability.ScrapeResult, d time.Duration) {
	o.scrapeTotal.WithLabelValues(region, string(result)).Inc()
	o.scrapeDuration.Observe(d.Seconds())
}

func (o *ScrapeObserver) BridgeChanges(n int) {
	o.changesTotal.Add(float64(n))
}

func (o *ScrapeObserver) EndpointSwitch(region string) {
	o.endpointSwitch.WithLabelValues(region).Inc()
}

func (o *ScrapeObserver) StatsRecompute(d time.Duration) {
	o.statsDuration.Observe(d.Seconds())
}

// IngestObserver exports AIS ingest metrics to Prometheus.
type IngestObserver struct {
	datagramTotal    *prometheus.CounterVec
	decodeErrorTotal *prometheus.CounterVec
	vesselGauge      prometheus.Gauge
	pollTotal        *prometheus.CounterVec
	evictedTotal     prometheus.Counter
}

// NewIngestObserver registers ingest metrics on the registry.
func NewIngestObserver(reg *prometheus.Registry) *IngestObserver {
	o := &IngestObserver{
		datagramTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_ais_datagrams_total",
			Help: "AIS datagrams received by station.",
		}, []string{"station"}),
		decodeErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_ais_decode_errors_total",
			Help: "AIS sentences that failed to decode, by station.",
		}, []string{"station"}),
		vesselGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgeup_vessels_tracked",
			Help: "Vessels currently in the registry.",
		}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_aishub_polls_total",
			Help: "AISHub poll outcomes.",
		}, []string{"result"}),
		evictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridgeup_vessels_evicted_total",
			Help: "Vessels evicted as stale or out of bounds.",
		}),
	}
	reg.MustRegister(
		o.datagramTotal,
		o.decodeErrorTotal,
		o.vesselGauge,
		o.pollTotal,
		o.evictedTotal,
	)
	return o
}

func (o *IngestObserver) Datagram(station string) {
	o.datagramTotal.WithLabelValues(station).Inc()
}

func (o *IngestObserver) DecodeError(station string) {
	o.decodeErrorTotal.WithLabelValues(station).Inc()
}

func (o *IngestObserver) VesselCount(n int) {
	o.vesselGauge.Set(float64(n))
}

func (o *IngestObserver) AISHubPoll(result observability.PollResult) {
	o.pollTotal.WithLabelValues(string(result)).Inc()
}

func (o *IngestObserver) VesselsEvicted(n int) {
	o.evictedTotal.Add(float64(n))
}

// FanoutObserver exports websocket fanout metrics to Prometheus.
type FanoutObserver struct {
	clientGauge    prometheus.Gauge
	broadcastTotal *prometheus.CounterVec
	dropTotal      *prometheus.CounterVec
}

// NewFanoutObserver registers fanout metrics on the registry.
func NewFanoutObserver(reg *prometheus.Registry) *FanoutObserver {
	o := &FanoutObserver{
		clientGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgeup_ws_clients",
			Help: "Current websocket client count.",
		}),
		broadcastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_ws_broadcasts_total",
			Help: "Broadcasts sent by channel.",
		}, []string{"channel"}),
		dropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgeup_ws_drops_total",
			Help: "Clients dropped by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.clientGauge,
		o.broadcastTotal,
		o.dropTotal,
	)
	return o
}

func (o *FanoutObserver) ClientCount(n int) {
	o.clientGauge.Set(float64(n))
}

func (o *FanoutObserver) Broadcast(channel string) {
	o.broadcastTotal.WithLabelValues(channel).Inc()
}

func (o *FanoutObserver) Drop(reason observability.DropReason) {
	o.dropTotal.WithLabelValues(string(reason)).Inc()
}
