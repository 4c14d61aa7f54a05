package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/registry"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/observability"
)

type countingObserver struct {
	mu           sync.Mutex
	datagrams    map[string]int
	decodeErrors map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		datagrams:    make(map[string]int),
		decodeErrors: make(map[string]int),
	}
}

func (o *countingObserver) Datagram(station string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.datagrams[station]++
}

func (o *countingObserver) DecodeError(station string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decodeErrors[station]++
}

func (o *countingObserver) VesselCount(int) {}

func (o *countingObserver) AISHubPoll(observability.PollResult) {}

func (o *countingObserver) VesselsEvicted(int) {}

func newTestListener(t *testing.T) (*UDPListener, *registry.Registry, *countingObserver) {
	t.Helper()
	reg := registry.New()
	clk := &clock.Fixed{T: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	obs := newCountingObserver()
	return NewUDPListener(reg, clk, log, obs), reg, obs
}

// A well-formed type 1 position report; the fix is outside the tracked
// regions, so decode succeeds but the registry drops it.
const sampleSentence = "!AIVDM,1,1,,A,13HOI:0P0000VOHLCnHQKwvL05Ip,0*23"

func TestHandleDatagramDecodesSentences(t *testing.T) {
	l, reg, obs := newTestListener(t)

	l.HandleDatagram([]byte(sampleSentence+"\r\n"), "10.0.0.1")
	l.Flush()

	require.Equal(t, 1, obs.datagrams["udp1"])
	require.Zero(t, obs.decodeErrors["udp1"])
	require.Zero(t, reg.Len())
}

func TestHandleDatagramCountsDecodeErrors(t *testing.T) {
	l, _, obs := newTestListener(t)

	l.HandleDatagram([]byte("!AIVDM,mangled*00\n"), "10.0.0.1")
	require.Equal(t, 1, obs.datagrams["udp1"])
	require.Equal(t, 1, obs.decodeErrors["udp1"])

	// Non-AIS lines are skipped silently, not counted as errors.
	l.HandleDatagram([]byte("$GPGGA,chatter\n\n"), "10.0.0.1")
	require.Equal(t, 1, obs.decodeErrors["udp1"])
}

func TestHandleDatagramDropsUnknownStations(t *testing.T) {
	l, _, obs := newTestListener(t)

	l.HandleDatagram([]byte(sampleSentence), "10.0.0.1")
	l.HandleDatagram([]byte(sampleSentence), "10.0.0.2")
	// The third distinct sender is beyond the station cap.
	l.HandleDatagram([]byte(sampleSentence), "10.0.0.3")

	require.Equal(t, 1, obs.datagrams["udp1"])
	require.Equal(t, 1, obs.datagrams["udp2"])
	require.Len(t, obs.datagrams, 2)
}

func TestFlushAppliesBufferedUpdates(t *testing.T) {
	l, reg, _ := newTestListener(t)

	// A position and a static report buffered in the same window coalesce
	// into one registry apply.
	lat, lon := 43.2, -79.2
	speed := 5.0
	name := "EXPLORER"
	l.mu.Lock()
	u := registry.Update{Lat: &lat, Lon: &lon, SpeedKnots: &speed}
	mergeUpdate(&u, registry.Update{Name: &name})
	l.pending["udp1"] = map[int64]registry.Update{316000001: u}
	l.mu.Unlock()

	l.Flush()
	vessels := reg.Vessels()
	require.Len(t, vessels, 1)
	require.Equal(t, "EXPLORER", *vessels[0].Name)
	require.Equal(t, 5.0, *vessels[0].SpeedKnots)
	require.Equal(t, "udp:udp1", vessels[0].Source)
}

func TestMergeUpdateOverlaysFields(t *testing.T) {
	lat, lon := 43.2, -79.2
	speed := 4.0
	name := "FEDERAL DART"
	tc := 70

	dst := registry.Update{Lat: &lat, Lon: &lon, SpeedKnots: &speed}
	mergeUpdate(&dst, registry.Update{Name: &name, TypeCode: &tc})
	require.Equal(t, "FEDERAL DART", *dst.Name)
	require.Equal(t, 70, *dst.TypeCode)
	require.True(t, dst.HasPosition())

	// A later position overwrites, absent fields stay.
	lat2, lon2 := 43.25, -79.21
	mergeUpdate(&dst, registry.Update{Lat: &lat2, Lon: &lon2})
	require.Equal(t, 43.25, *dst.Lat)
	require.Equal(t, "FEDERAL DART", *dst.Name)

	// Dimensions merge like the rest.
	mergeUpdate(&dst, registry.Update{Dimensions: &boats.Dimensions{Length: 200, Width: 24}})
	require.Equal(t, 200, dst.Dimensions.Length)
}
