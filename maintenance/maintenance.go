// Package maintenance loads the operator-maintained closure override file.
// An active period forces a bridge's status to Construction regardless of what
// the upstream reports; future periods feed its upcoming closures.
//
// The file is produced out of process (by an upstream notice scraper or by
// hand) and can change at any time, so every read goes through an
// mtime-checked cache.
package maintenance

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxExpandDays caps daily-pattern expansion against bad date ranges.
const maxExpandDays = 365

// Period is one resolved closure window.
type Period struct {
	Start       time.Time
	End         time.Time
	Description string
}

// Info is the file-level summary reported by the health endpoint.
type Info struct {
	FileExists        bool    `json:"file_exists"`
	ClosureCount      int     `json:"closure_count"`
	SourceURL         *string `json:"source_url,omitempty"`
	LastScrapeSuccess *string `json:"last_scrape_success,omitempty"`
}

type filePeriod struct {
	Type           string `json:"type"`
	Start          string `json:"start"`
	End            string `json:"end"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	DailyStartTime string `json:"daily_start_time"`
	DailyEndTime   string `json:"daily_end_time"`
}

type fileClosure struct {
	BridgeID    string       `json:"bridge_id"`
	Description string       `json:"description"`
	Periods     []filePeriod `json:"periods"`
}

type fileData struct {
	Closures          []fileClosure `json:"closures"`
	SourceURL         *string       `json:"source_url"`
	LastScrapeSuccess *string       `json:"last_scrape_success"`
}

// Store reads the override file on demand, re-parsing only when its
// modification time changes. Safe for concurrent use.
type Store struct {
	log  *logrus.Entry
	path string
	loc  *time.Location

	mu     sync.Mutex
	mtime  time.Time
	cached *fileData
}

// NewStore returns a store over path. loc is the timezone naive timestamps in
// the file are interpreted in.
func NewStore(path string, loc *time.Location, log *logrus.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		log:  log.WithField("component", "maintenance"),
		path: path,
		loc:  loc,
	}
}

// load returns the parsed file, or nil when it is missing or invalid. The
// cache is dropped on both so stale overrides never outlive the file.
func (s *Store) load() *fileData {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithError(err).Warn("stat failed")
		}
		s.mtime, s.cached = time.Time{}, nil
		return nil
	}
	if s.cached != nil && fi.ModTime().Equal(s.mtime) {
		return s.cached
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WithError(err).Warn("read failed")
		s.mtime, s.cached = time.Time{}, nil
		return nil
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.WithError(err).Warn("invalid maintenance file")
		s.mtime, s.cached = time.Time{}, nil
		return nil
	}
	s.mtime, s.cached = fi.ModTime(), &data
	s.log.WithField("closures", len(data.Closures)).Info("maintenance file loaded")
	return s.cached
}

// ForBridge resolves the bridge's maintenance state at now: the currently
// active period if any, and every period still ending in the future, sorted by
// start time.
func (s *Store) ForBridge(id string, now time.Time) (active *Period, upcoming []Period) {
	data := s.load()
	if data == nil {
		return nil, nil
	}

	for _, c := range data.Closures {
		if c.BridgeID != id {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = "Scheduled maintenance"
		}
		for _, p := range c.Periods {
			for _, w := range s.expand(p, now) {
				w.Description = desc
				if active == nil && !w.Start.After(now) && !w.End.Before(now) {
					ww := w
					active = &ww
				}
				if w.End.After(now) {
					upcoming = append(upcoming, w)
				}
			}
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })
	return active, upcoming
}

// expand turns one file period into concrete windows, dropping windows that
// already ended.
func (s *Store) expand(p filePeriod, now time.Time) []Period {
	if p.Type != "daily" {
		start, err1 := parseStamp(p.Start, s.loc)
		end, err2 := parseStamp(p.End, s.loc)
		if err1 != nil || err2 != nil {
			s.log.WithFields(logrus.Fields{"start": p.Start, "end": p.End}).Warn("bad period dates")
			return nil
		}
		return []Period{{Start: start, End: end}}
	}

	startDate, err1 := time.ParseInLocation("2006-01-02", p.StartDate, s.loc)
	endDate, err2 := time.ParseInLocation("2006-01-02", p.EndDate, s.loc)
	startTod, err3 := time.Parse("15:04", p.DailyStartTime)
	endTod, err4 := time.Parse("15:04", p.DailyEndTime)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || endDate.Before(startDate) {
		s.log.WithField("period", p).Warn("bad daily period")
		return nil
	}
	if endDate.Sub(startDate) > maxExpandDays*24*time.Hour {
		endDate = startDate.AddDate(0, 0, maxExpandDays)
	}

	// A window like 21:00-02:00 spans midnight and ends on the next day.
	spansMidnight := endTod.Hour() < startTod.Hour() ||
		(endTod.Hour() == startTod.Hour() && endTod.Minute() < startTod.Minute())

	var out []Period
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		start := time.Date(day.Year(), day.Month(), day.Day(), startTod.Hour(), startTod.Minute(), 0, 0, s.loc)
		endDay := day
		if spansMidnight {
			endDay = day.AddDate(0, 0, 1)
		}
		end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), endTod.Hour(), endTod.Minute(), 0, 0, s.loc)
		if end.After(now) {
			out = append(out, Period{Start: start, End: end})
		}
	}
	return out
}

// parseStamp accepts RFC 3339 timestamps and naive ISO timestamps in the
// store's location.
func parseStamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}

// Info summarizes the file for the health endpoint.
func (s *Store) Info() Info {
	data := s.load()
	if data == nil {
		return Info{}
	}
	return Info{
		FileExists:        true,
		ClosureCount:      len(data.Closures),
		SourceURL:         data.SourceURL,
		LastScrapeSuccess: data.LastScrapeSuccess,
	}
}
