// Package history maintains the per-bridge status logs that statistics are
// computed from. Each bridge gets one JSON file of entries ordered newest
// first; an entry spans the time a tracked status was continuously held.
package history

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/bridgeup/bridgeup/internal/atomicfile"
)

// MaxEntries bounds each bridge's log; older entries fall off the tail.
const MaxEntries = 300

// Entry is one span of continuously-held tracked status. EndTime and
// DurationSeconds are nil while the span is still open; both are filled when
// the next transition closes it.
type Entry struct {
	ID              string     `json:"id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Status          string     `json:"status"`
	DurationSeconds *int       `json:"duration"`
}

// Duration returns the span length, or false while the span is open. The
// persisted seconds win over the timestamps when both are present.
func (e Entry) Duration() (time.Duration, bool) {
	if e.DurationSeconds != nil {
		return time.Duration(*e.DurationSeconds) * time.Second, true
	}
	if e.EndTime == nil {
		return 0, false
	}
	return e.EndTime.Sub(e.StartTime), true
}

// Log owns the history directory. Safe for concurrent use.
type Log struct {
	mu  sync.Mutex
	dir string
}

// NewLog returns a log rooted at dir, creating it if needed.
func NewLog(dir string) (*Log, error) {
	if err := atomicfile.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

func (l *Log) file(id string) string {
	return filepath.Join(l.dir, id+".json")
}

// newEntryID labels an entry with its wall-clock minute plus a short random
// suffix, e.g. "Jun10-1204-kqzr". Ids only need to be unique within one
// bridge's log.
func newEntryID(now time.Time) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = letters[rand.IntN(len(letters))]
	}
	return now.Format("Jan02-1504") + "-" + string(suffix)
}

// Record notes that the bridge currently holds status. On a transition it
// closes the open span at now, prepends a new one, and rewrites the file;
// when the status is unchanged it does nothing. Reports whether a transition
// was recorded.
func (l *Log) Record(id, status string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(id)
	if err != nil {
		return false, err
	}
	if len(entries) > 0 && entries[0].Status == status {
		return false, nil
	}
	if len(entries) > 0 && entries[0].EndTime == nil {
		t := now
		d := int(now.Sub(entries[0].StartTime).Round(time.Second).Seconds())
		entries[0].EndTime = &t
		entries[0].DurationSeconds = &d
	}
	entries = append([]Entry{{ID: newEntryID(now), StartTime: now, Status: status}}, entries...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	if err := atomicfile.WriteJSON(l.file(id), entries); err != nil {
		return false, fmt.Errorf("history %s: %w", id, err)
	}
	return true, nil
}

// Entries returns the bridge's log newest first. A missing file is an empty
// log, not an error.
func (l *Log) Entries(id string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(id)
}

// Rewrite replaces the bridge's log wholesale. Used by the statistics pass to
// drop entries that no longer contribute.
func (l *Log) Rewrite(id string, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	if err := atomicfile.WriteJSON(l.file(id), entries); err != nil {
		return fmt.Errorf("history %s: %w", id, err)
	}
	return nil
}

func (l *Log) load(id string) ([]Entry, error) {
	var entries []Entry
	if err := atomicfile.ReadJSON(l.file(id), &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return entries, nil
}
