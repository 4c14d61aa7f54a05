// Package fanout is the websocket hub: clients subscribe to channels and
// receive the current state immediately, then a fresh payload whenever it
// changes. Delivery is best-effort; a slow or broken client is dropped and
// picks up the full state again on reconnect.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/events"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/internal/ws"
	"github.com/bridgeup/bridgeup/observability"
)

const (
	// sendTimeout bounds one frame write; a client that cannot drain a frame
	// in this window is dropped.
	sendTimeout = 5 * time.Second

	// minBoatInterval gates boat broadcasts so position chatter cannot flood
	// clients.
	minBoatInterval = 5 * time.Second

	// outboundBuffer is the per-client queue. A full queue means the writer
	// is stuck, which is the same thing as a send timeout.
	outboundBuffer = 16

	// maxSubscribeBytes bounds inbound frames; subscribe requests are tiny.
	maxSubscribeBytes = 4096
)

// Top-level channel names. Region sub-channels are "bridges:{short}" and
// "boats:{region}".
const (
	ChannelBridges = "bridges"
	ChannelBoats   = "boats"
)

// BoatsPayloadFunc supplies the current boats payload.
type BoatsPayloadFunc func(now time.Time) boats.Payload

// outMessage is a data frame.
type outMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ackMessage acknowledges a subscribe, always carrying the channel list even
// when empty.
type ackMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// subscribeRequest is the only recognized client→server message.
type subscribeRequest struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub owns the client set and the broadcast paths.
type Hub struct {
	log     *logrus.Entry
	store   *bridge.Store
	boatsFn BoatsPayloadFunc
	bus     *events.Bus
	obs     observability.FanoutObserver
	clk     clock.Clock
	known   map[string]bool

	mu           sync.Mutex
	clients      map[*client]struct{}
	lastBoatKey  map[string]string
	lastBoatSent time.Time
	closed       bool
}

// New returns a hub serving store snapshots and boatsFn payloads. obs may be
// nil.
func New(store *bridge.Store, boatsFn BoatsPayloadFunc, bus *events.Bus, clk clock.Clock, log *logrus.Logger, obs observability.FanoutObserver) *Hub {
	if obs == nil {
		obs = observability.NoopFanoutObserver
	}
	return &Hub{
		log:         log.WithField("component", "fanout"),
		store:       store,
		boatsFn:     boatsFn,
		bus:         bus,
		obs:         obs,
		clk:         clk,
		known:       knownChannels(),
		clients:     make(map[*client]struct{}),
		lastBoatKey: make(map[string]string),
	}
}

// knownChannels enumerates the closed channel set from the region rosters.
func knownChannels() map[string]bool {
	m := map[string]bool{ChannelBridges: true, ChannelBoats: true}
	for _, r := range bridge.Regions() {
		m[ChannelBridges+":"+strings.ToLower(r.Short)] = true
	}
	for _, id := range boats.RegionIDs() {
		m[ChannelBoats+":"+id] = true
	}
	return m
}

// Run dispatches bridge-change signals until ctx is canceled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-sub:
			h.BroadcastBridges()
		}
	}
}

// shutdown tells every client the server is going away.
func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.closeOnce(func() {
			_ = c.conn.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
		})
	}
	h.obs.ClientCount(0)
	h.log.WithField("clients", len(clients)).Info("fanout shut down")
}

// ClientCount reports connected clients for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		CheckOrigin: func(*http.Request) bool { return true },
	})
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		return
	}
	conn.SetReadLimit(maxSubscribeBytes)

	c := &client{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.obs.ClientCount(n)

	go c.writeLoop()
	c.readLoop(r.Context())
}

// remove drops a client from the set and closes it. Safe to call twice.
func (h *Hub) remove(c *client, reason observability.DropReason) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !present {
		return
	}

	c.closeOnce(func() { _ = c.conn.Close() })
	h.obs.Drop(reason)
	h.obs.ClientCount(n)
}

// snapshotClients captures the current client list outside the lock.
func (h *Hub) snapshotClients() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastBridges pushes the current snapshot to every subscriber of a
// bridges channel, filtered per region channel.
func (h *Hub) BroadcastBridges() {
	snap := h.store.Snapshot()
	cache := make(map[string][]byte)

	for _, c := range h.snapshotClients() {
		for _, ch := range c.subscribed(ChannelBridges) {
			msg, ok := cache[ch]
			if !ok {
				msg = marshalBridges(ch, snap)
				cache[ch] = msg
			}
			if !c.enqueue(msg) {
				h.remove(c, observability.DropReasonSendTimeout)
				break
			}
		}
	}
	for ch := range cache {
		h.obs.Broadcast(ch)
	}
}

// ProbeBoats compares the current boats payload against the last pushed one
// and broadcasts the channels that changed. Serialization excludes the
// volatile fields, so a vessel merely being re-seen does not count as change.
func (h *Hub) ProbeBoats() {
	now := h.clk.Now()

	h.mu.Lock()
	if !h.lastBoatSent.IsZero() && now.Sub(h.lastBoatSent) < minBoatInterval {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	payload := h.boatsFn(now)

	changed := make(map[string][]byte)
	h.mu.Lock()
	for _, ch := range boatChannels() {
		filtered := payload
		if region, ok := strings.CutPrefix(ch, ChannelBoats+":"); ok {
			filtered.Vessels = boats.FilterRegions(payload.Vessels, map[string]bool{region: true})
			filtered.VesselCount = len(filtered.Vessels)
		}
		key := boats.ComparisonKey(filtered.Vessels)
		if h.lastBoatKey[ch] == key {
			continue
		}
		h.lastBoatKey[ch] = key
		msg, err := json.Marshal(outMessage{Type: ChannelBoats, Data: filtered})
		if err != nil {
			continue
		}
		changed[ch] = msg
	}
	if len(changed) > 0 {
		h.lastBoatSent = now
	}
	h.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, c := range h.snapshotClients() {
		for _, ch := range c.subscribed(ChannelBoats) {
			msg, ok := changed[ch]
			if !ok {
				continue
			}
			if !c.enqueue(msg) {
				h.remove(c, observability.DropReasonSendTimeout)
				break
			}
		}
	}
	for ch := range changed {
		h.obs.Broadcast(ch)
	}
}

func boatChannels() []string {
	out := []string{ChannelBoats}
	for _, id := range boats.RegionIDs() {
		out = append(out, ChannelBoats+":"+id)
	}
	return out
}

// marshalBridges builds one bridges frame, filtering for region sub-channels.
func marshalBridges(channel string, snap bridge.Snapshot) []byte {
	data := snap
	if short, ok := strings.CutPrefix(channel, ChannelBridges+":"); ok {
		data = snap.FilterRegion(short)
	}
	msg, err := json.Marshal(outMessage{Type: ChannelBridges, Data: data})
	if err != nil {
		return nil
	}
	return msg
}

// messageFor builds the initial frame sent right after a subscribe.
func (h *Hub) messageFor(channel string, now time.Time) []byte {
	if strings.HasPrefix(channel, ChannelBridges) {
		return marshalBridges(channel, h.store.Snapshot())
	}
	payload := h.boatsFn(now)
	if region, ok := strings.CutPrefix(channel, ChannelBoats+":"); ok {
		payload.Vessels = boats.FilterRegions(payload.Vessels, map[string]bool{region: true})
		payload.VesselCount = len(payload.Vessels)
	}
	msg, err := json.Marshal(outMessage{Type: ChannelBoats, Data: payload})
	if err != nil {
		return nil
	}
	return msg
}

// client is one connected websocket peer.
type client struct {
	hub  *Hub
	conn *ws.Conn
	out  chan []byte
	done chan struct{}

	mu       sync.Mutex
	channels map[string]bool
	closed   sync.Once
}

// closeOnce runs fn the first time the client is torn down.
func (c *client) closeOnce(fn func()) {
	c.closed.Do(func() {
		close(c.done)
		fn()
	})
}

// subscribed returns the client's channels under the given top-level prefix.
func (c *client) subscribed(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for ch := range c.channels {
		if ch == prefix || strings.HasPrefix(ch, prefix+":") {
			out = append(out, ch)
		}
	}
	return out
}

// enqueue queues one frame, reporting false when the client's queue is stuck.
func (c *client) enqueue(msg []byte) bool {
	if msg == nil {
		return true
	}
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue onto the socket, one frame per send
// timeout at most.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := c.conn.WriteMessage(ctx, websocket.TextMessage, msg)
			cancel()
			if err != nil {
				reason := observability.DropReasonWriteError
				if err == context.DeadlineExceeded {
					reason = observability.DropReasonSendTimeout
				}
				c.hub.remove(c, reason)
				return
			}
		}
	}
}

// readLoop consumes subscribe requests until the peer goes away.
func (c *client) readLoop(ctx context.Context) {
	defer c.hub.remove(c, observability.DropReasonPeerClosed)
	for {
		_, data, err := c.conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.Action != "subscribe" {
			continue
		}
		c.handleSubscribe(req.Channels)
	}
}

// handleSubscribe replaces the subscription set with the recognized subset,
// acknowledges, then pushes current state for each channel. The ack is queued
// first, so the client always sees it before any data.
func (c *client) handleSubscribe(requested []string) {
	valid := make([]string, 0, len(requested))
	set := make(map[string]bool, len(requested))
	for _, ch := range requested {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if !c.hub.known[ch] || set[ch] {
			continue
		}
		set[ch] = true
		valid = append(valid, ch)
	}

	c.mu.Lock()
	c.channels = set
	c.mu.Unlock()

	ack, err := json.Marshal(ackMessage{Type: "subscribed", Channels: valid})
	if err != nil {
		return
	}
	if !c.enqueue(ack) {
		c.hub.remove(c, observability.DropReasonSendTimeout)
		return
	}

	now := c.hub.clk.Now()
	for _, ch := range valid {
		if !c.enqueue(c.hub.messageFor(ch, now)) {
			c.hub.remove(c, observability.DropReasonSendTimeout)
			return
		}
	}
}
