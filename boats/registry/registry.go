// Package registry is the in-memory vessel store. It merges updates from the
// UDP listeners and the AISHub poller, giving precedence to the real-time UDP
// feed, and evicts vessels that go quiet or stop moving.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/internal/geo"
)

const (
	// MaxVessels caps the registry; the tracked regions hold far fewer.
	MaxVessels = 1000

	// MaxUDPStations bounds how many distinct sender IPs get a station slot.
	MaxUDPStations = 2

	// aishubStaleAfter is how fresh a record must be before the polled feed
	// is allowed to overwrite it.
	aishubStaleAfter = 60 * time.Second

	movedThresholdMeters = 10

	staleSeen  = 15 * time.Minute
	staleMoved = 120 * time.Minute
)

// Update is one decoded AIS report. Nil fields were not present in the
// message; position-less updates only merge static data.
type Update struct {
	Lat, Lon    *float64
	SpeedKnots  *float64
	Heading     *float64
	Course      *float64
	Name        *string
	Destination *string
	TypeCode    *int
	Dimensions  *boats.Dimensions
}

// HasPosition reports whether the update carries a fix.
func (u Update) HasPosition() bool {
	return u.Lat != nil && u.Lon != nil
}

// StationStatus describes one UDP feed for health reporting.
type StationStatus struct {
	Active      bool      `json:"active"`
	LastMessage time.Time `json:"last_message"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	vessels     map[int64]boats.Vessel
	ipToStation map[string]string
	stationLast map[string]time.Time
}

func New() *Registry {
	return &Registry{
		vessels:     make(map[int64]boats.Vessel),
		ipToStation: make(map[string]string),
		stationLast: make(map[string]time.Time),
	}
}

// AssignStation pins a sender IP to a station id ahead of time, bypassing
// dynamic assignment. Used when the station map is configured explicitly.
func (r *Registry) AssignStation(ip, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ipToStation[ip] = id
}

// StationID returns the station slot for a sender IP, assigning udp1, udp2 to
// the first distinct senders. Further IPs get no slot and their traffic is
// dropped.
func (r *Registry) StationID(ip string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ipToStation[ip]; ok {
		return id, true
	}
	if len(r.ipToStation) >= MaxUDPStations {
		return "", false
	}
	id := fmt.Sprintf("udp%d", len(r.ipToStation)+1)
	r.ipToStation[ip] = id
	return id, true
}

// Apply merges one update into the registry. source is "udp:<station>" or
// "aishub"; UDP always overwrites, the polled feed only overwrites records
// older than a minute. Vessels positioned outside every region are evicted.
func (r *Registry) Apply(mmsi int64, u Update, source string, now time.Time) {
	if !boats.ValidMMSI(mmsi) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if station, ok := strings.CutPrefix(source, "udp:"); ok {
		r.stationLast[station] = now
	}

	if !u.HasPosition() {
		if v, ok := r.vessels[mmsi]; ok {
			mergeStatic(&v, u)
			r.vessels[mmsi] = v
		}
		return
	}

	region, ok := boats.RegionFor(*u.Lat, *u.Lon)
	if !ok {
		delete(r.vessels, mmsi)
		return
	}

	v, exists := r.vessels[mmsi]
	if !exists {
		if len(r.vessels) >= MaxVessels {
			return
		}
		r.vessels[mmsi] = newVessel(mmsi, u, source, region, now)
		return
	}

	if !strings.HasPrefix(source, "udp:") && now.Sub(v.LastSeen) <= aishubStaleAfter {
		return
	}

	if geo.DisplacementMeters(v.Position.Lat, v.Position.Lon, *u.Lat, *u.Lon) > movedThresholdMeters {
		v.LastMoved = now
	}
	v.Position = boats.Position{Lat: *u.Lat, Lon: *u.Lon}
	if u.SpeedKnots != nil {
		v.SpeedKnots = clonef(u.SpeedKnots)
	}
	if u.Heading != nil {
		v.Heading = clonef(u.Heading)
	}
	if u.Course != nil {
		v.Course = clonef(u.Course)
	}
	mergeStatic(&v, u)
	v.LastSeen = now
	v.Source = source
	v.Region = region
	r.vessels[mmsi] = v
}

func newVessel(mmsi int64, u Update, source, region string, now time.Time) boats.Vessel {
	v := boats.Vessel{
		MMSI:      mmsi,
		Position:  boats.Position{Lat: *u.Lat, Lon: *u.Lon},
		LastSeen:  now,
		LastMoved: now,
		Source:    source,
		Region:    region,
	}
	v.TypeName, v.TypeCategory = boats.TypeInfo(nil)
	v.SpeedKnots = clonef(u.SpeedKnots)
	v.Heading = clonef(u.Heading)
	v.Course = clonef(u.Course)
	mergeStatic(&v, u)
	return v
}

func mergeStatic(v *boats.Vessel, u Update) {
	if u.Name != nil {
		v.Name = clones(u.Name)
	}
	if u.TypeCode != nil {
		v.TypeCode = clonei(u.TypeCode)
		v.TypeName, v.TypeCategory = boats.TypeInfo(u.TypeCode)
	}
	if u.Destination != nil {
		v.Destination = clones(u.Destination)
	}
	if u.Dimensions != nil {
		d := *u.Dimensions
		v.Dimensions = &d
	}
}

// Cleanup evicts vessels not seen for 15 minutes or not moving for two
// hours. A vessel idle that long is docked or anchored, not waiting out a
// bridge lift. Returns how many were removed.
func (r *Registry) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int
	for mmsi, v := range r.vessels {
		if now.Sub(v.LastSeen) > staleSeen || now.Sub(v.LastMoved) > staleMoved {
			delete(r.vessels, mmsi)
			removed++
			continue
		}
		if _, ok := boats.RegionFor(v.Position.Lat, v.Position.Lon); !ok {
			delete(r.vessels, mmsi)
			removed++
		}
	}
	return removed
}

// Vessels returns a copy of every tracked vessel ordered by MMSI.
func (r *Registry) Vessels() []boats.Vessel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]boats.Vessel, 0, len(r.vessels))
	for _, v := range r.vessels {
		out = append(out, cloneVessel(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out
}

// Len returns the number of tracked vessels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vessels)
}

// StationStatuses reports each UDP station's liveness: active means a message
// in the last 30 seconds.
func (r *Registry) StationStatuses(now time.Time) map[string]StationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StationStatus, len(r.stationLast))
	for id, last := range r.stationLast {
		out[id] = StationStatus{
			Active:      now.Sub(last) < 30*time.Second,
			LastMessage: last,
		}
	}
	return out
}

func cloneVessel(v boats.Vessel) boats.Vessel {
	out := v
	out.Name = clones(v.Name)
	out.TypeCode = clonei(v.TypeCode)
	out.Heading = clonef(v.Heading)
	out.Course = clonef(v.Course)
	out.SpeedKnots = clonef(v.SpeedKnots)
	out.Destination = clones(v.Destination)
	if v.Dimensions != nil {
		d := *v.Dimensions
		out.Dimensions = &d
	}
	return out
}

func clonef(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clonei(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clones(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
