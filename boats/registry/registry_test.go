package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func positionUpdate(lat, lon float64) Update {
	return Update{Lat: &lat, Lon: &lon}
}

func TestApplyCreatesVessel(t *testing.T) {
	r := New()
	u := positionUpdate(43.2, -79.2)
	u.SpeedKnots = f(5)
	u.Name = s("FEDERAL DART")

	r.Apply(316000001, u, "udp:udp1", now)

	vessels := r.Vessels()
	require.Len(t, vessels, 1)
	v := vessels[0]
	require.Equal(t, int64(316000001), v.MMSI)
	require.Equal(t, "welland", v.Region)
	require.Equal(t, "FEDERAL DART", *v.Name)
	require.Equal(t, "udp:udp1", v.Source)
	require.True(t, v.LastSeen.Equal(now))
	require.True(t, v.LastMoved.Equal(now))
	require.Equal(t, "Unknown", v.TypeName)
}

func TestApplyRejectsInvalidMMSIAndOutOfBounds(t *testing.T) {
	r := New()
	r.Apply(123, positionUpdate(43.2, -79.2), "udp:udp1", now)
	require.Zero(t, r.Len())

	// In-bounds first, then a fix outside every region evicts it.
	r.Apply(316000001, positionUpdate(43.2, -79.2), "udp:udp1", now)
	require.Equal(t, 1, r.Len())
	r.Apply(316000001, positionUpdate(40.0, -74.0), "udp:udp1", now.Add(time.Minute))
	require.Zero(t, r.Len())
}

func TestApplyStaticOnlyMergesIntoExisting(t *testing.T) {
	r := New()

	// Static data for an unknown vessel goes nowhere.
	r.Apply(316000001, Update{Name: s("GHOST")}, "udp:udp1", now)
	require.Zero(t, r.Len())

	r.Apply(316000001, positionUpdate(43.2, -79.2), "udp:udp1", now)
	tc := 70
	r.Apply(316000001, Update{Name: s("ALGOMA GUARDIAN"), TypeCode: &tc}, "udp:udp1", now.Add(time.Second))

	v := r.Vessels()[0]
	require.Equal(t, "ALGOMA GUARDIAN", *v.Name)
	require.Equal(t, "Cargo", v.TypeName)
	require.Equal(t, "cargo", v.TypeCategory)
	// A static-only report does not bump last_seen.
	require.True(t, v.LastSeen.Equal(now))
}

func TestUDPOverridesFreshAISHub(t *testing.T) {
	r := New()
	r.Apply(316000001, positionUpdate(43.20, -79.20), "udp:udp1", now)

	// The polled feed may not overwrite a record fresher than a minute.
	r.Apply(316000001, positionUpdate(43.25, -79.20), "aishub", now.Add(30*time.Second))
	v := r.Vessels()[0]
	require.Equal(t, 43.20, v.Position.Lat)
	require.Equal(t, "udp:udp1", v.Source)

	// Once stale, it may.
	r.Apply(316000001, positionUpdate(43.25, -79.20), "aishub", now.Add(2*time.Minute))
	v = r.Vessels()[0]
	require.Equal(t, 43.25, v.Position.Lat)
	require.Equal(t, "aishub", v.Source)

	// UDP always wins.
	r.Apply(316000001, positionUpdate(43.30, -79.20), "udp:udp2", now.Add(2*time.Minute+time.Second))
	require.Equal(t, 43.30, r.Vessels()[0].Position.Lat)
}

func TestLastMovedTracksDisplacement(t *testing.T) {
	r := New()
	r.Apply(316000001, positionUpdate(43.20, -79.20), "udp:udp1", now)

	// A jitter of a few meters is not movement.
	r.Apply(316000001, positionUpdate(43.200001, -79.20), "udp:udp1", now.Add(time.Minute))
	v := r.Vessels()[0]
	require.True(t, v.LastMoved.Equal(now))
	require.True(t, v.LastSeen.Equal(now.Add(time.Minute)))

	r.Apply(316000001, positionUpdate(43.201, -79.20), "udp:udp1", now.Add(2*time.Minute))
	v = r.Vessels()[0]
	require.True(t, v.LastMoved.Equal(now.Add(2*time.Minute)))
}

func TestCleanup(t *testing.T) {
	r := New()
	r.Apply(316000001, positionUpdate(43.2, -79.2), "udp:udp1", now.Add(-20*time.Minute))
	r.Apply(316000002, positionUpdate(43.2, -79.21), "udp:udp1", now)

	// Idle-but-seen: last_moved far in the past even though last_seen is
	// current.
	r.Apply(316000003, positionUpdate(43.2, -79.22), "udp:udp1", now.Add(-3*time.Hour))
	r.Apply(316000003, positionUpdate(43.2, -79.22), "udp:udp1", now)

	removed := r.Cleanup(now)
	require.Equal(t, 2, removed)
	vessels := r.Vessels()
	require.Len(t, vessels, 1)
	require.Equal(t, int64(316000002), vessels[0].MMSI)
}

func TestStationAssignment(t *testing.T) {
	r := New()

	id1, ok := r.StationID("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, "udp1", id1)

	// Same IP keeps its slot.
	again, ok := r.StationID("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, "udp1", again)

	id2, ok := r.StationID("10.0.0.2")
	require.True(t, ok)
	require.Equal(t, "udp2", id2)

	// Beyond the cap, traffic is dropped.
	_, ok = r.StationID("10.0.0.3")
	require.False(t, ok)
}

func TestAssignStationPreseedsMap(t *testing.T) {
	r := New()
	r.AssignStation("192.168.1.50", "rooftop")

	id, ok := r.StationID("192.168.1.50")
	require.True(t, ok)
	require.Equal(t, "rooftop", id)
}

func TestStationStatuses(t *testing.T) {
	r := New()
	r.Apply(316000001, positionUpdate(43.2, -79.2), "udp:udp1", now.Add(-10*time.Second))
	r.Apply(316000002, positionUpdate(43.2, -79.2), "udp:udp2", now.Add(-5*time.Minute))

	statuses := r.StationStatuses(now)
	require.True(t, statuses["udp1"].Active)
	require.False(t, statuses["udp2"].Active)
}

func TestMaxVesselsCap(t *testing.T) {
	r := New()
	for i := 0; i < MaxVessels+10; i++ {
		r.Apply(int64(316000000+i), positionUpdate(43.2, -79.2), "udp:udp1", now)
	}
	require.Equal(t, MaxVessels, r.Len())
}

func TestVesselsSortedAndCopied(t *testing.T) {
	r := New()
	r.Apply(316000002, positionUpdate(43.2, -79.2), "udp:udp1", now)
	u := positionUpdate(43.2, -79.21)
	u.Name = s("FIRST")
	r.Apply(316000001, u, "udp:udp1", now)

	vessels := r.Vessels()
	require.Equal(t, int64(316000001), vessels[0].MMSI)
	require.Equal(t, int64(316000002), vessels[1].MMSI)

	*vessels[0].Name = "MUTATED"
	require.Equal(t, "FIRST", *r.Vessels()[0].Name)
}
