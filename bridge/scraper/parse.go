package scraper

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bridgeup/bridgeup/bridge"
)

// rawBridge is one bridge as parsed from an upstream payload, before
// normalization against the stored snapshot.
type rawBridge struct {
	Name      string
	RawStatus string
	Closures  []bridge.Closure
}

// oldPayload is the legacy upstream shape.
type oldPayload struct {
	BridgeModelList []struct {
		Address    string `json:"address"`
		Status     string `json:"status"`
		Vessel1ETA string `json:"vessel1ETA"`
	} `json:"bridgeModelList"`
	BridgeClosureList []struct {
		BridgeAddress  string `json:"bridgeAddress"`
		ClosureP       string `json:"closureP"`
		ContinuousHour string `json:"continuousHour"`
	} `json:"bridgeClosureList"`
}

// newPayload is the newer upstream shape.
type newPayload struct {
	BridgeStatusList []struct {
		Address        string `json:"address"`
		Status         string `json:"status"`
		Status3        string `json:"status3"`
		BridgeLiftList []struct {
			ETA  string `json:"eta"`
			Type string `json:"type"`
		} `json:"bridgeLiftList"`
		BridgeMaintenanceList []struct {
			CloseDateFr string `json:"closeDateFr"`
			CloseDateTo string `json:"closeDateTo"`
		} `json:"bridgeMaintenanceList"`
	} `json:"bridgeStatusList"`
}

// parseOldJSON handles the legacy shape: per-bridge status rows with a single
// vessel ETA, plus a region-wide planned-closure list matched to bridges by
// address.
func parseOldJSON(data []byte, now time.Time, loc *time.Location) ([]rawBridge, bool) {
	var payload oldPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if len(payload.BridgeModelList) == 0 {
		return nil, false
	}

	bridges := make([]rawBridge, 0, len(payload.BridgeModelList))
	for _, m := range payload.BridgeModelList {
		b := rawBridge{
			Name:      strings.TrimSpace(m.Address),
			RawStatus: strings.TrimSpace(m.Status),
		}
		if eta := strings.TrimSpace(m.Vessel1ETA); eta != "" && eta != "----" {
			if t, longer, ok := parseDate(eta, now, loc); ok {
				b.Closures = append(b.Closures, bridge.Closure{
					Type:   bridge.ClosureNextArrival,
					Time:   t,
					Longer: longer,
				})
			}
		}
		bridges = append(bridges, b)
	}

	for _, c := range payload.BridgeClosureList {
		if c.ClosureP == "" {
			continue
		}
		continuous := c.ContinuousHour != "N"
		windows := parseClosurePeriod(c.ClosureP, continuous, now, loc)
		name := strings.TrimSpace(c.BridgeAddress)
		for i := range bridges {
			if bridges[i].Name != name {
				continue
			}
			for _, w := range windows {
				end := w.end
				bridges[i].Closures = append(bridges[i].Closures, bridge.Closure{
					Type:    bridge.ClosureConstruction,
					Time:    w.start,
					EndTime: &end,
				})
			}
			break
		}
	}
	return bridges, true
}

// parseNewJSON handles the newer shape: per-bridge lift and maintenance lists
// nested in each status row.
func parseNewJSON(data []byte, now time.Time, loc *time.Location) ([]rawBridge, bool) {
	var payload newPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if len(payload.BridgeStatusList) == 0 {
		return nil, false
	}

	bridges := make([]rawBridge, 0, len(payload.BridgeStatusList))
	for _, s := range payload.BridgeStatusList {
		status := strings.TrimSpace(s.Status3)
		if status == "" {
			status = strings.TrimSpace(s.Status)
		}
		b := rawBridge{
			Name:      strings.TrimSpace(s.Address),
			RawStatus: status,
		}

		for _, lift := range s.BridgeLiftList {
			eta := strings.TrimSpace(lift.ETA)
			if eta == "" {
				continue
			}
			t, _, ok := parseDate(eta, now, loc)
			if !ok || !t.After(now) {
				continue
			}
			closureType := bridge.ClosureCommercialVessel
			if lift.Type == "a" || lift.Type == "" {
				closureType = bridge.ClosureNextArrival
			}
			b.Closures = append(b.Closures, bridge.Closure{
				Type: closureType,
				Time: t,
			})
		}

		for _, m := range s.BridgeMaintenanceList {
			if m.CloseDateFr == "" {
				continue
			}
			start, _, ok := parseDate(m.CloseDateFr, now, loc)
			if !ok {
				continue
			}
			var end *time.Time
			if m.CloseDateTo != "" {
				if t, _, ok := parseDate(m.CloseDateTo, now, loc); ok {
					end = &t
				}
			}
			if end != nil && !end.After(now) {
				continue
			}
			b.Closures = append(b.Closures, bridge.Closure{
				Type:    bridge.ClosureConstruction,
				Time:    start,
				EndTime: end,
			})
		}

		bridges = append(bridges, b)
	}
	return bridges, true
}
