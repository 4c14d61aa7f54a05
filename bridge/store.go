package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/bridgeup/bridgeup/internal/atomicfile"
)

// ErrUnknownBridge is returned for ids outside the fixed roster.
var ErrUnknownBridge = errors.New("bridge: unknown bridge id")

// Store is the process-wide snapshot of bridge state. All reads hand out deep
// copies, so callers can hold results across lock boundaries.
type Store struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

// NewStore seeds a store with the fixed bridge roster: every surveyed bridge
// present with Unknown status and empty statistics. path is the snapshot file
// used by Load and Flush.
func NewStore(path string) *Store {
	s := &Store{
		path: path,
		snap: Snapshot{
			AvailableBridges: AvailableBridges(),
			Bridges:          make(map[string]Entry),
		},
	}
	for _, r := range Regions() {
		for _, b := range r.Bridges {
			id := SanitizeID(r.Short, b.Name)
			s.snap.Bridges[id] = Entry{
				Static: Static{
					Name:        b.Name,
					Region:      r.Name,
					RegionShort: r.Short,
					Coordinates: b.Coordinates,
				},
				Live: Live{Status: StatusUnknown},
			}
		}
	}
	return s
}

// Load merges a persisted snapshot into the seeded roster. Bridges no longer
// on the roster are dropped; a missing file is not an error. Static identity
// always comes from the roster, only live state and statistics are restored.
func (s *Store) Load() error {
	var prev Snapshot
	if err := atomicfile.ReadJSON(s.path, &prev); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastUpdated = prev.LastUpdated
	for id, old := range prev.Bridges {
		cur, ok := s.snap.Bridges[id]
		if !ok {
			continue
		}
		cur.Static.Statistics = cloneStatistics(old.Static.Statistics)
		cur.Live = cloneLive(old.Live)
		if cur.Live.Status == "" {
			cur.Live.Status = StatusUnknown
		}
		s.snap.Bridges[id] = cur
	}
	return nil
}

// Flush writes the snapshot to disk atomically.
func (s *Store) Flush() error {
	s.mu.Lock()
	snap := cloneSnapshot(s.snap)
	s.mu.Unlock()
	if err := atomicfile.WriteJSON(s.path, snap); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap)
}

// Entry returns a deep copy of one bridge by id.
func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.snap.Bridges[id]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

// Update mutates one bridge under the store lock. fn receives a copy that is
// written back on return, so it must not retain the pointer.
func (s *Store) Update(id string, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.snap.Bridges[id]
	if !ok {
		return ErrUnknownBridge
	}
	fn(&e)
	s.snap.Bridges[id] = e
	return nil
}

// Upsert mutates one bridge, creating it from static when first seen. Regions
// without a surveyed roster discover their bridges from the upstream payload
// at runtime. For existing bridges the stored static record stays
// authoritative.
func (s *Store) Upsert(id string, static Static, fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.snap.Bridges[id]
	if !ok {
		e = Entry{Static: static, Live: Live{Status: StatusUnknown}}
	}
	fn(&e)
	s.snap.Bridges[id] = e
}

// SetLastUpdated records the time of the latest successful scrape.
func (s *Store) SetLastUpdated(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt := t
	s.snap.LastUpdated = &tt
}

// LastUpdated returns the time of the latest successful scrape, if any.
func (s *Store) LastUpdated() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.LastUpdated == nil {
		return time.Time{}, false
	}
	return *s.snap.LastUpdated, true
}

func cloneSnapshot(in Snapshot) Snapshot {
	out := Snapshot{
		AvailableBridges: append([]Summary(nil), in.AvailableBridges...),
		Bridges:          make(map[string]Entry, len(in.Bridges)),
	}
	if in.LastUpdated != nil {
		t := *in.LastUpdated
		out.LastUpdated = &t
	}
	for id, e := range in.Bridges {
		out.Bridges[id] = cloneEntry(e)
	}
	return out
}

func cloneEntry(in Entry) Entry {
	out := in
	out.Static.Statistics = cloneStatistics(in.Static.Statistics)
	out.Live = cloneLive(in.Live)
	return out
}

func cloneLive(in Live) Live {
	out := in
	if in.Predicted != nil {
		w := *in.Predicted
		out.Predicted = &w
	}
	if in.UpcomingClosures != nil {
		out.UpcomingClosures = make([]Closure, len(in.UpcomingClosures))
		for i, c := range in.UpcomingClosures {
			out.UpcomingClosures[i] = cloneClosure(c)
		}
	}
	if in.ResponsibleVesselMMSI != nil {
		v := *in.ResponsibleVesselMMSI
		out.ResponsibleVesselMMSI = &v
	}
	return out
}

func cloneClosure(in Closure) Closure {
	out := in
	if in.ExpectedDurationMinutes != nil {
		v := *in.ExpectedDurationMinutes
		out.ExpectedDurationMinutes = &v
	}
	if in.EndTime != nil {
		t := *in.EndTime
		out.EndTime = &t
	}
	return out
}

func cloneStatistics(in Statistics) Statistics {
	out := in
	out.AverageClosureDuration = cloneIntPtr(in.AverageClosureDuration)
	out.AverageRaisingSoon = cloneIntPtr(in.AverageRaisingSoon)
	if in.ClosureCI != nil {
		ci := *in.ClosureCI
		out.ClosureCI = &ci
	}
	if in.RaisingSoonCI != nil {
		ci := *in.RaisingSoonCI
		out.RaisingSoonCI = &ci
	}
	return out
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
