package ingest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ais "github.com/BertoldVdb/go-ais"
	"github.com/BertoldVdb/go-ais/aisnmea"
	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/registry"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/observability"
)

const (
	// flushEvery is how often buffered reports are pushed to the registry.
	// Buffering coalesces the per-second AIS chatter into one merge per
	// vessel per window, last writer wins.
	flushEvery = 5 * time.Second

	// maxPendingPerStation caps the flush buffer against datagram floods.
	maxPendingPerStation = 500

	readBufferSize = 4096
)

// UDPListener receives AIS NMEA sentences from local receiver stations. Each
// station gets its own NMEA codec so multipart fragments from different
// stations cannot interleave.
type UDPListener struct {
	log      *logrus.Entry
	registry *registry.Registry
	obs      observability.IngestObserver
	clk      clock.Clock

	mu      sync.Mutex
	codecs  map[string]*aisnmea.NMEACodec
	pending map[string]map[int64]registry.Update
}

// NewUDPListener returns a listener feeding reg. obs may be nil.
func NewUDPListener(reg *registry.Registry, clk clock.Clock, log *logrus.Logger, obs observability.IngestObserver) *UDPListener {
	if obs == nil {
		obs = observability.NoopIngestObserver
	}
	return &UDPListener{
		log:      log.WithField("component", "ais_udp"),
		registry: reg,
		obs:      obs,
		clk:      clk,
		codecs:   make(map[string]*aisnmea.NMEACodec),
		pending:  make(map[string]map[int64]registry.Update),
	}
}

// Run binds the UDP port and serves until ctx is canceled.
func (l *UDPListener) Run(ctx context.Context, port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("ais udp listen: %w", err)
	}
	l.log.WithField("port", port).Info("ais udp listener started")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	done := make(chan struct{})
	go l.flushLoop(ctx, done)

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			<-done
			l.Flush()
			if ctx.Err() != nil {
				l.log.Info("ais udp listener stopped")
				return nil
			}
			return fmt.Errorf("ais udp read: %w", err)
		}
		l.HandleDatagram(buf[:n], addr.IP.String())
	}
}

func (l *UDPListener) flushLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// HandleDatagram decodes every sentence in one datagram and buffers the
// results. Datagrams from IPs beyond the station limit are dropped.
func (l *UDPListener) HandleDatagram(data []byte, ip string) {
	station, ok := l.registry.StationID(ip)
	if !ok {
		return
	}
	l.obs.Datagram(station)

	for _, line := range strings.Split(string(data), "\n") {
		sentence := strings.TrimSpace(line)
		if sentence == "" || !strings.HasPrefix(sentence, "!") {
			continue
		}
		pkt, err := l.codec(station).ParseSentence(sentence)
		if err != nil {
			l.obs.DecodeError(station)
			l.log.WithError(err).WithField("station", station).Debug("sentence decode failed")
			continue
		}
		if pkt == nil || pkt.Packet == nil {
			continue // awaiting more fragments
		}
		l.bufferPacket(station, pkt.Packet)
	}
}

func (l *UDPListener) codec(station string) *aisnmea.NMEACodec {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.codecs[station]; ok {
		return c
	}
	c := aisnmea.NMEACodecNew(ais.CodecNew(false, false))
	l.codecs[station] = c
	return c
}

func (l *UDPListener) bufferPacket(station string, pkt ais.Packet) {
	mmsi, u, ok := updateFromPacket(pkt)
	if !ok || !boats.ValidMMSI(mmsi) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	pending, ok := l.pending[station]
	if !ok {
		pending = make(map[int64]registry.Update)
		l.pending[station] = pending
	}
	existing, ok := pending[mmsi]
	if !ok {
		if len(pending) >= maxPendingPerStation {
			return
		}
		pending[mmsi] = u
		return
	}
	mergeUpdate(&existing, u)
	pending[mmsi] = existing
}

// Flush pushes all buffered reports into the registry.
func (l *UDPListener) Flush() {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]map[int64]registry.Update)
	l.mu.Unlock()

	now := l.clk.Now()
	for station, updates := range pending {
		source := "udp:" + station
		for mmsi, u := range updates {
			l.registry.Apply(mmsi, u, source, now)
		}
	}
	l.obs.VesselCount(l.registry.Len())
}

// mergeUpdate overlays src's non-nil fields onto dst, so a position report
// and a static report arriving in the same window produce one combined
// update.
func mergeUpdate(dst *registry.Update, src registry.Update) {
	if src.Lat != nil && src.Lon != nil {
		dst.Lat, dst.Lon = src.Lat, src.Lon
	}
	if src.SpeedKnots != nil {
		dst.SpeedKnots = src.SpeedKnots
	}
	if src.Heading != nil {
		dst.Heading = src.Heading
	}
	if src.Course != nil {
		dst.Course = src.Course
	}
	if src.Name != nil {
		dst.Name = src.Name
	}
	if src.Destination != nil {
		dst.Destination = src.Destination
	}
	if src.TypeCode != nil {
		dst.TypeCode = src.TypeCode
	}
	if src.Dimensions != nil {
		dst.Dimensions = src.Dimensions
	}
}
