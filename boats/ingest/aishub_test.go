package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/registry"
	"github.com/bridgeup/bridgeup/internal/clock"
)

func TestParseAISHubResponse(t *testing.T) {
	body := []byte(`[
		{"ERROR": false},
		[
			{"MMSI": 316000001, "NAME": "FEDERAL DART", "LATITUDE": 43.2, "LONGITUDE": -79.2,
			 "SOG": 5.5, "COG": 181.0, "HEADING": 180.0, "TYPE": 70, "DEST": "MONTREAL",
			 "A": 100, "B": 50, "C": 10, "D": 12},
			{"MMSI": 316000002, "NAME": "NOFIX"},
			{"MMSI": 12, "NAME": "BADMMSI", "LATITUDE": 43.2, "LONGITUDE": -79.2},
			{"MMSI": 316000003, "NAME": "BADHDG", "LATITUDE": 45.4, "LONGITUDE": -73.5,
			 "HEADING": 511.0, "COG": 360.0}
		]
	]`)

	vessels, err := parseAISHubResponse(body)
	require.NoError(t, err)
	require.Len(t, vessels, 2)

	v := vessels[0]
	require.Equal(t, int64(316000001), v.mmsi)
	require.Equal(t, "FEDERAL DART", *v.update.Name)
	require.Equal(t, "MONTREAL", *v.update.Destination)
	require.Equal(t, 70, *v.update.TypeCode)
	require.Equal(t, 180.0, *v.update.Heading)
	require.Equal(t, &boats.Dimensions{Length: 150, Width: 22}, v.update.Dimensions)

	// The sentinel heading and course are dropped, the fix is kept.
	v = vessels[1]
	require.Equal(t, int64(316000003), v.mmsi)
	require.Nil(t, v.update.Heading)
	require.Nil(t, v.update.Course)
	require.True(t, v.update.HasPosition())
}

func TestParseAISHubAPIError(t *testing.T) {
	_, err := parseAISHubResponse([]byte(`[{"ERROR": true, "ERROR_MESSAGE": "too frequent"}]`))
	require.ErrorIs(t, err, ErrAISHub)
	require.Contains(t, err.Error(), "too frequent")

	_, err = parseAISHubResponse([]byte(`{"not": "an array"}`))
	require.ErrorIs(t, err, ErrAISHub)

	vessels, err := parseAISHubResponse([]byte(`[{"ERROR": false}]`))
	require.NoError(t, err)
	require.Empty(t, vessels)
}

func TestPollAppliesVesselsAndBacksOff(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "apikey", r.URL.Query().Get("username"))
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"ERROR": false}, [{"MMSI": 316000001, "NAME": "FEDERAL DART", "LATITUDE": 43.2, "LONGITUDE": -79.2, "SOG": 5.0}]]`))
	}))
	t.Cleanup(server.Close)

	reg := registry.New()
	clk := &clock.Fixed{T: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	p := NewAISHubPoller(AISHubConfig{APIKey: "apikey", URL: server.URL}, reg, clk, log, nil)

	p.Poll(context.Background())
	require.Equal(t, 1, reg.Len())
	st := p.Status()
	require.True(t, st.OK)
	require.NotNil(t, st.LastPoll)

	// A failure starts the backoff at the rate-limit interval; polls inside
	// the window are skipped without touching the network.
	fail.Store(true)
	clk.Advance(61 * time.Second)
	p.Poll(context.Background())
	st = p.Status()
	require.False(t, st.OK)
	require.Equal(t, 1, st.FailureCount)
	require.NotNil(t, st.LastError)

	before := calls.Load()
	clk.Advance(30 * time.Second)
	p.Poll(context.Background())
	require.Equal(t, before, calls.Load())

	// Past the backoff the poller recovers.
	fail.Store(false)
	clk.Advance(61 * time.Second)
	p.Poll(context.Background())
	require.True(t, p.Status().OK)
}

func TestBackoffDoublesToCap(t *testing.T) {
	p := &AISHubPoller{}
	expect := []time.Duration{
		61 * time.Second,
		122 * time.Second,
		244 * time.Second,
		300 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}
	for i, want := range expect {
		p.failureCount = i + 1
		require.Equal(t, want, p.backoff(), "failures=%d", i+1)
	}
}

func TestCombinedBoundsCoversAllRegions(t *testing.T) {
	b := combinedBounds()
	for _, id := range boats.RegionIDs() {
		rb, ok := boats.RegionBounds(id)
		require.True(t, ok)
		require.LessOrEqual(t, b.LatMin, rb.LatMin)
		require.GreaterOrEqual(t, b.LatMax, rb.LatMax)
		require.LessOrEqual(t, b.LonMin, rb.LonMin)
		require.GreaterOrEqual(t, b.LonMax, rb.LonMax)
	}
}
