package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bridgeup/bridgeup/maintenance"
)

const (
	// scrapeStuckAfter is how stale the last scrape attempt may be before the
	// scheduler is considered stuck. Scrapes run every 20-30 s, so five
	// minutes means several consecutive misses.
	scrapeStuckAfter = 5 * time.Minute

	// seawayGrace is how long all regions may fail before the seaway
	// indicator degrades.
	seawayGrace = 10 * time.Minute

	// Bridge-activity thresholds. During the navigation season a day without
	// a single status change is unusual; in winter the bridges barely move.
	activitySeason    = 24 * time.Hour
	activityOffSeason = 168 * time.Hour
)

type healthResponse struct {
	Status                string            `json:"status"`
	StatusMessage         string            `json:"status_message"`
	SeawayStatus          string            `json:"seaway_status"`
	SeawayMessage         string            `json:"seaway_message"`
	BridgeActivity        string            `json:"bridge_activity"`
	BridgeActivityMessage string            `json:"bridge_activity_message"`
	LastUpdated           *time.Time        `json:"last_updated"`
	LastScrape            *time.Time        `json:"last_scrape"`
	LastScrapeHadChanges  bool              `json:"last_scrape_had_changes"`
	StatisticsLastUpdated *time.Time        `json:"statistics_last_updated"`
	BridgesCount          int               `json:"bridges_count"`
	WebsocketClients      int               `json:"websocket_clients"`
	Maintenance           *maintenance.Info `json:"maintenance,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.clk.Now()
	resp := healthResponse{
		Status:         "ok",
		StatusMessage:  "All systems operational",
		SeawayStatus:   "ok",
		SeawayMessage:  "Upstream reachable",
		BridgeActivity: "ok",
	}

	snap := s.store.Snapshot()
	resp.LastUpdated = snap.LastUpdated
	resp.BridgesCount = len(snap.Bridges)

	if tick, ok := s.scraper.LastTick(); ok {
		t := tick
		resp.LastScrape = &t
		if age := now.Sub(tick); age > scrapeStuckAfter {
			resp.Status = "error"
			resp.StatusMessage = fmt.Sprintf("Scraper has not run in %d minutes, may be stuck or crashed", int(age.Minutes()))
		}
	} else {
		resp.StatusMessage = "Scraper has not run yet"
	}
	resp.LastScrapeHadChanges = s.scraper.LastHadChanges()

	if success, ok := s.scraper.LastSuccess(); !ok || now.Sub(success) > seawayGrace {
		resp.SeawayStatus = "degraded"
		resp.SeawayMessage = "All regions failing, serving last known state"
	}

	threshold, season := activityThreshold(now.In(s.loc))
	if snap.LastUpdated != nil {
		if age := now.Sub(*snap.LastUpdated); age > threshold {
			resp.BridgeActivity = "warning"
			resp.BridgeActivityMessage = fmt.Sprintf("No bridge status changes in %d hours, unusual inactivity", int(age.Hours()))
			if resp.Status == "ok" {
				resp.Status = "warning"
				resp.StatusMessage = resp.BridgeActivityMessage
			}
		} else {
			resp.BridgeActivityMessage = activityOKMessage(season)
		}
	} else {
		resp.BridgeActivityMessage = "No bridge changes observed yet"
	}

	if t, ok := s.scraper.StatsUpdatedAt(); ok {
		tt := t
		resp.StatisticsLastUpdated = &tt
	}
	if s.clients != nil {
		resp.WebsocketClients = s.clients.ClientCount()
	}
	if s.maint != nil {
		info := s.maint.Info()
		resp.Maintenance = &info
	}

	s.writeJSON(w, resp)
}

func activityOKMessage(season bool) string {
	if season {
		return "Normal activity for navigation season"
	}
	return "Normal activity for off-season"
}

// activityThreshold picks the inactivity warning threshold for t's date. The
// navigation season runs from mid-March through the end of November.
func activityThreshold(t time.Time) (time.Duration, bool) {
	if inNavigationSeason(t) {
		return activitySeason, true
	}
	return activityOffSeason, false
}

func inNavigationSeason(t time.Time) bool {
	switch t.Month() {
	case time.March:
		return t.Day() >= 15
	case time.April, time.May, time.June, time.July, time.August,
		time.September, time.October, time.November:
		return true
	default:
		return false
	}
}
