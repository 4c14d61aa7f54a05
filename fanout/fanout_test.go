package fanout

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/events"
	"github.com/bridgeup/bridgeup/internal/clock"
)

type hubHarness struct {
	hub     *Hub
	store   *bridge.Store
	bus     *events.Bus
	clk     *clock.Fixed
	server  *httptest.Server
	vessels *[]boats.Vessel
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()

	store := bridge.NewStore(filepath.Join(t.TempDir(), "bridges.json"))
	bus := events.NewBus()
	clk := &clock.Fixed{T: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	vessels := &[]boats.Vessel{}
	boatsFn := func(now time.Time) boats.Payload {
		return boats.BuildPayload(*vessels, nil, now)
	}

	hub := New(store, boatsFn, bus, clk, log, nil)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	return &hubHarness{hub: hub, store: store, bus: bus, clk: clk, server: server, vessels: vessels}
}

func (h *hubHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "subscribe",
		"channels": channels,
	}))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func frameType(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(frame["type"], &typ))
	return typ
}

func TestSubscribeAckPrecedesInitialData(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)

	subscribe(t, conn, "bridges", "nonsense", "boats:welland")

	ack := readFrame(t, conn)
	require.Equal(t, "subscribed", frameType(t, ack))
	var channels []string
	require.NoError(t, json.Unmarshal(ack["channels"], &channels))
	require.Equal(t, []string{"bridges", "boats:welland"}, channels)

	first := readFrame(t, conn)
	require.Equal(t, "bridges", frameType(t, first))
	var snap bridge.Snapshot
	require.NoError(t, json.Unmarshal(first["data"], &snap))
	require.NotEmpty(t, snap.Bridges)

	second := readFrame(t, conn)
	require.Equal(t, "boats", frameType(t, second))
}

func TestSubscribeReplacesSet(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)

	subscribe(t, conn, "bridges")
	readFrame(t, conn) // ack
	readFrame(t, conn) // bridges

	subscribe(t, conn, "boats")
	ack := readFrame(t, conn)
	var channels []string
	require.NoError(t, json.Unmarshal(ack["channels"], &channels))
	require.Equal(t, []string{"boats"}, channels)
	readFrame(t, conn) // boats

	// The client no longer subscribes to bridges, so a bridge change stays
	// silent.
	go h.hub.Run(contextWithCancel(t))
	h.bus.Notify()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func contextWithCancel(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestBridgeBroadcastFiltersRegionChannel(t *testing.T) {
	h := newHubHarness(t)
	go h.hub.Run(contextWithCancel(t))

	conn := h.dial(t)
	subscribe(t, conn, "bridges:sct")
	readFrame(t, conn) // ack
	readFrame(t, conn) // initial

	h.bus.Notify()

	frame := readFrame(t, conn)
	require.Equal(t, "bridges", frameType(t, frame))
	var snap bridge.Snapshot
	require.NoError(t, json.Unmarshal(frame["data"], &snap))
	require.NotEmpty(t, snap.Bridges)
	for _, e := range snap.Bridges {
		require.Equal(t, "SCT", e.Static.RegionShort)
	}
}

func TestProbeBoatsOnlyBroadcastsChanges(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)

	subscribe(t, conn, "boats")
	readFrame(t, conn) // ack
	readFrame(t, conn) // initial boats

	name := "EXPLORER"
	*h.vessels = []boats.Vessel{{
		MMSI:     316001234,
		Name:     &name,
		Position: boats.Position{Lat: 43.2, Lon: -79.2},
		Region:   "welland",
	}}

	h.hub.ProbeBoats()
	frame := readFrame(t, conn)
	require.Equal(t, "boats", frameType(t, frame))
	var payload boats.Payload
	require.NoError(t, json.Unmarshal(frame["data"], &payload))
	require.Equal(t, 1, payload.VesselCount)

	// Same vessels: the probe stays silent even past the interval gate.
	h.clk.Advance(10 * time.Second)
	h.hub.ProbeBoats()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestProbeBoatsMinimumInterval(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)

	subscribe(t, conn, "boats")
	readFrame(t, conn)
	readFrame(t, conn)

	*h.vessels = []boats.Vessel{{MMSI: 316001234, Position: boats.Position{Lat: 43.2, Lon: -79.2}, Region: "welland"}}
	h.hub.ProbeBoats()
	readFrame(t, conn)

	// A change arriving right after the last broadcast is held back.
	*h.vessels = []boats.Vessel{{MMSI: 316009999, Position: boats.Position{Lat: 43.3, Lon: -79.2}, Region: "welland"}}
	h.clk.Advance(time.Second)
	h.hub.ProbeBoats()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	// Past the gate it goes out.
	h.clk.Advance(5 * time.Second)
	h.hub.ProbeBoats()
	frame := readFrame(t, conn)
	require.Equal(t, "boats", frameType(t, frame))
}

func TestShutdownSendsGoingAway(t *testing.T) {
	h := newHubHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.hub.Run(ctx)
		close(done)
	}()

	conn := h.dial(t)
	subscribe(t, conn, "bridges")
	readFrame(t, conn)
	readFrame(t, conn)

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	require.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	require.Equal(t, "server shutting down", closeErr.Text)
	require.Equal(t, 0, h.hub.ClientCount())
}
