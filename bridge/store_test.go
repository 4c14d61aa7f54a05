package bridge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "bridges.json"))
}

func TestNewStoreSeedsRoster(t *testing.T) {
	s := newTestStore(t)
	snap := s.Snapshot()

	require.Len(t, snap.Bridges, 5)
	require.Nil(t, snap.LastUpdated)
	e, ok := snap.Bridges["SCT_LakeshoreRd"]
	require.True(t, ok)
	require.Equal(t, StatusUnknown, e.Live.Status)
	require.Equal(t, "St Catharines", e.Static.Region)
	require.NotZero(t, e.Static.Coordinates.Lat)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.json")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	s := NewStore(path)
	require.NoError(t, s.Update("SCT_CarltonSt", func(e *Entry) {
		e.Live.Status = StatusClosed
		e.Live.LastUpdated = now
	}))
	s.SetLastUpdated(now)
	require.NoError(t, s.Flush())

	s2 := NewStore(path)
	require.NoError(t, s2.Load())
	e, ok := s2.Entry("SCT_CarltonSt")
	require.True(t, ok)
	require.Equal(t, StatusClosed, e.Live.Status)
	require.True(t, e.Live.LastUpdated.Equal(now))

	last, ok := s2.LastUpdated()
	require.True(t, ok)
	require.True(t, last.Equal(now))
}

func TestLoadKeepsRosterStaticAuthoritative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.json")

	s := NewStore(path)
	require.NoError(t, s.Update("SCT_CarltonSt", func(e *Entry) {
		e.Static.Name = "Tampered"
		e.Live.Status = StatusOpen
	}))
	require.NoError(t, s.Flush())

	s2 := NewStore(path)
	require.NoError(t, s2.Load())
	e, _ := s2.Entry("SCT_CarltonSt")
	require.Equal(t, "Carlton St.", e.Static.Name)
	require.Equal(t, StatusOpen, e.Live.Status)
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())
	require.Len(t, s.Snapshot().Bridges, 5)
}

func TestUpdateUnknownBridge(t *testing.T) {
	s := newTestStore(t)
	err := s.Update("XX_Nothing", func(*Entry) {})
	require.ErrorIs(t, err, ErrUnknownBridge)
}

func TestUpsertCreatesDiscoveredBridge(t *testing.T) {
	s := newTestStore(t)
	static := Static{Name: "Main St.", Region: "Port Colborne", RegionShort: "PC"}

	s.Upsert("PC_MainSt", static, func(e *Entry) {
		e.Live.Status = StatusOpen
	})
	e, ok := s.Entry("PC_MainSt")
	require.True(t, ok)
	require.Equal(t, "Main St.", e.Static.Name)
	require.Equal(t, StatusOpen, e.Live.Status)

	// Existing records keep their stored static block.
	s.Upsert("PC_MainSt", Static{Name: "Renamed"}, func(e *Entry) {
		e.Live.Status = StatusClosed
	})
	e, _ = s.Entry("PC_MainSt")
	require.Equal(t, "Main St.", e.Static.Name)
	require.Equal(t, StatusClosed, e.Live.Status)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	mmsi := int64(316001234)
	require.NoError(t, s.Update("SCT_CarltonSt", func(e *Entry) {
		e.Live.ResponsibleVesselMMSI = &mmsi
		e.Live.UpcomingClosures = []Closure{{Type: ClosureNextArrival}}
	}))

	snap := s.Snapshot()
	got := snap.Bridges["SCT_CarltonSt"]
	*got.Live.ResponsibleVesselMMSI = 0
	got.Live.UpcomingClosures[0].Type = "mutated"

	e, _ := s.Entry("SCT_CarltonSt")
	require.Equal(t, int64(316001234), *e.Live.ResponsibleVesselMMSI)
	require.Equal(t, ClosureNextArrival, e.Live.UpcomingClosures[0].Type)
}
