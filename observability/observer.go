package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type ScrapeResult string

const (
	ScrapeResultOK      ScrapeResult = "ok"
	ScrapeResultError   ScrapeResult = "error"
	ScrapeResultBackoff ScrapeResult = "backoff"
)

type PollResult string

const (
	PollResultOK      PollResult = "ok"
	PollResultError   PollResult = "error"
	PollResultSkipped PollResult = "skipped"
)

type DropReason string

const (
	DropReasonSendTimeout DropReason = "send_timeout"
	DropReasonWriteError  DropReason = "write_error"
	DropReasonPeerClosed  DropReason = "peer_closed"
)

// ScrapeObserver receives scraper-level metric events.
type ScrapeObserver interface {
	Scrape(region string, result ScrapeResult, d time.Duration)
	BridgeChanges(n int)
	EndpointSwitch(region string)
	StatsRecompute(d time.Duration)
}

// IngestObserver receives AIS-ingest metric events.
type IngestObserver interface {
	Datagram(station string)
	DecodeError(station string)
	VesselCount(n int)
	AISHubPoll(result PollResult)
	VesselsEvicted(n int)
}

// FanoutObserver receives websocket fanout metric events.
type FanoutObserver interface {
	ClientCount(n int)
	Broadcast(channel string)
	Drop(reason DropReason)
}

type noopScrapeObserver struct{}

func (noopScrapeObserver) Scrape(string, ScrapeResult, time.Duration) {}
func (noopScrapeObserver) BridgeChanges(int)                          {}
func (noopScrapeObserver) EndpointSwitch(string)                      {}
func (noopScrapeObserver) StatsRecompute(time.Duration)               {}

type noopIngestObserver struct{}

func (noopIngestObserver) Datagram(string)       {}
func (noopIngestObserver) DecodeError(string)    {}
func (noopIngestObserver) VesselCount(int)       {}
func (noopIngestObserver) AISHubPoll(PollResult) {}
func (noopIngestObserver) VesselsEvicted(int)    {}

type noopFanoutObserver struct{}

func (noopFanoutObserver) ClientCount(int)  {}
func (noopFanoutObserver) Broadcast(string) {}
func (noopFanoutObserver) Drop(DropReason)  {}

// NoopScrapeObserver is a zero-cost observer used when metrics are disabled.
var NoopScrapeObserver ScrapeObserver = noopScrapeObserver{}

// NoopIngestObserver is a zero-cost observer used when metrics are disabled.
var NoopIngestObserver IngestObserver = noopIngestObserver{}

// NoopFanoutObserver is a zero-cost observer used when metrics are disabled.
var NoopFanoutObserver FanoutObserver = noopFanoutObserver{}

// AtomicScrapeObserver swaps its delegate at runtime.
type AtomicScrapeObserver struct {
	once sync.Once
	v    atomic.Value
}

type scrapeObserverHolder struct {
	obs ScrapeObserver
}

// NewAtomicScrapeObserver returns an initialized atomic observer.
func NewAtomicScrapeObserver() *AtomicScrapeObserver {
	a := &AtomicScrapeObserver{}
	a.once.Do(func() { a.v.Store(&scrapeObserverHolder{obs: NoopScrapeObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicScrapeObserver) Set(obs ScrapeObserver) {
	if obs == nil {
		obs = NoopScrapeObserver
	}
	a.once.Do(func() { a.v.Store(&scrapeObserverHolder{obs: NoopScrapeObserver}) })
	a.v.Store(&scrapeObserverHolder{obs: obs})
}

func (a *AtomicScrapeObserver) load() ScrapeObserver {
	a.once.Do(func() { a.v.Store(&scrapeObserverHolder{obs: NoopScrapeObserver}) })
	return a.v.Load().(*scrapeObserverHolder).obs
}

func (a *AtomicScrapeObserver) Scrape(region string, result ScrapeResult, d time.Duration) {
	a.load().Scrape(region, result, d)
}
func (a *AtomicScrapeObserver) BridgeChanges(n int)            { a.load().BridgeChanges(n) }
func (a *AtomicScrapeObserver) EndpointSwitch(region string)   { a.load().EndpointSwitch(region) }
func (a *AtomicScrapeObserver) StatsRecompute(d time.Duration) { a.load().StatsRecompute(d) }

// AtomicIngestObserver swaps its delegate at runtime.
type AtomicIngestObserver struct {
	once sync.Once
	v    atomic.Value
}

type ingestObserverHolder struct {
	obs IngestObserver
}

// NewAtomicIngestObserver returns an initialized atomic observer.
func NewAtomicIngestObserver() *AtomicIngestObserver {
	a := &AtomicIngestObserver{}
	a.once.Do(func() { a.v.Store(&ingestObserverHolder{obs: NoopIngestObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicIngestObserver) Set(obs IngestObserver) {
	if obs == nil {
		obs = NoopIngestObserver
	}
	a.once.Do(func() { a.v.Store(&ingestObserverHolder{obs: NoopIngestObserver}) })
	a.v.Store(&ingestObserverHolder{obs: obs})
}

func (a *AtomicIngestObserver) load() IngestObserver {
	a.once.Do(func() { a.v.Store(&ingestObserverHolder{obs: NoopIngestObserver}) })
	return a.v.Load().(*ingestObserverHolder).obs
}

func (a *AtomicIngestObserver) Datagram(station string)        { a.load().Datagram(station) }
func (a *AtomicIngestObserver) DecodeError(station string)     { a.load().DecodeError(station) }
func (a *AtomicIngestObserver) VesselCount(n int)              { a.load().VesselCount(n) }
func (a *AtomicIngestObserver) AISHubPoll(result PollResult)   { a.load().AISHubPoll(result) }
func (a *AtomicIngestObserver) VesselsEvicted(n int)           { a.load().VesselsEvicted(n) }

// AtomicFanoutObserver swaps its delegate at runtime.
type AtomicFanoutObserver struct {
	once sync.Once
	v    atomic.Value
}

type fanoutObserverHolder struct {
	obs FanoutObserver
}

// NewAtomicFanoutObserver returns an initialized atomic observer.
func NewAtomicFanoutObserver() *AtomicFanoutObserver {
	a := &AtomicFanoutObserver{}
	a.once.Do(func() { a.v.Store(&fanoutObserverHolder{obs: NoopFanoutObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicFanoutObserver) Set(obs FanoutObserver) {
	if obs == nil {
		obs = NoopFanoutObserver
	}
	a.once.Do(func() { a.v.Store(&fanoutObserverHolder{obs: NoopFanoutObserver}) })
	a.v.Store(&fanoutObserverHolder{obs: obs})
}

func (a *AtomicFanoutObserver) load() FanoutObserver {
	a.once.Do(func() { a.v.Store(&fanoutObserverHolder{obs: NoopFanoutObserver}) })
	return a.v.Load().(*fanoutObserverHolder).obs
}

func (a *AtomicFanoutObserver) ClientCount(n int)         { a.load().ClientCount(n) }
func (a *AtomicFanoutObserver) Broadcast(channel string)  { a.load().Broadcast(channel) }
func (a *AtomicFanoutObserver) Drop(reason DropReason)    { a.load().Drop(reason) }
