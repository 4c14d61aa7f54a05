package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/registry"
	"github.com/bridgeup/bridgeup/internal/clock"
	"github.com/bridgeup/bridgeup/observability"
)

const (
	aishubDefaultURL = "https://data.aishub.net/ws.php"
	aishubTimeout    = 30 * time.Second

	backoffBase = 61 * time.Second
	backoffCap  = 300 * time.Second
)

// ErrAISHub wraps API-level failures (as opposed to transport errors).
var ErrAISHub = errors.New("aishub")

// AISHubConfig configures the HTTP poller.
type AISHubConfig struct {
	APIKey string
	URL    string // empty means the public endpoint
}

// AISHubPoller fetches one combined bounding box covering every tracked
// region per poll. The API enforces one call per minute, so one big box gives
// both regions the freshest data the limit allows.
type AISHubPoller struct {
	log      *logrus.Entry
	registry *registry.Registry
	obs      observability.IngestObserver
	clk      clock.Clock
	client   *http.Client
	cfg      AISHubConfig
	bounds   boats.Bounds

	// mu guards the poll state; Status is read from request handlers while
	// Poll runs on the scheduler goroutine.
	mu           sync.Mutex
	failureCount int
	nextRetry    time.Time
	lastPoll     *time.Time
	lastError    *string
}

// NewAISHubPoller returns a poller feeding reg. obs may be nil.
func NewAISHubPoller(cfg AISHubConfig, reg *registry.Registry, clk clock.Clock, log *logrus.Logger, obs observability.IngestObserver) *AISHubPoller {
	if cfg.URL == "" {
		cfg.URL = aishubDefaultURL
	}
	if obs == nil {
		obs = observability.NoopIngestObserver
	}
	return &AISHubPoller{
		log:      log.WithField("component", "aishub"),
		registry: reg,
		obs:      obs,
		clk:      clk,
		client:   &http.Client{Timeout: aishubTimeout},
		cfg:      cfg,
		bounds:   combinedBounds(),
	}
}

// combinedBounds unions every region's box into one query envelope.
func combinedBounds() boats.Bounds {
	var out boats.Bounds
	for i, id := range boats.RegionIDs() {
		b, _ := boats.RegionBounds(id)
		if i == 0 {
			out = b
			continue
		}
		if b.LatMin < out.LatMin {
			out.LatMin = b.LatMin
		}
		if b.LatMax > out.LatMax {
			out.LatMax = b.LatMax
		}
		if b.LonMin < out.LonMin {
			out.LonMin = b.LonMin
		}
		if b.LonMax > out.LonMax {
			out.LonMax = b.LonMax
		}
	}
	return out
}

// Poll fetches vessels once, honoring the failure backoff. Call it from a
// timer no more often than once per 61 seconds.
func (p *AISHubPoller) Poll(ctx context.Context) {
	now := p.clk.Now()
	p.mu.Lock()
	skip := now.Before(p.nextRetry)
	p.mu.Unlock()
	if skip {
		p.obs.AISHubPoll(observability.PollResultSkipped)
		return
	}

	vessels, err := p.fetch(ctx)
	t := now

	if err != nil {
		p.mu.Lock()
		p.lastPoll = &t
		p.failureCount++
		attempt := p.failureCount
		backoff := p.backoff()
		p.nextRetry = now.Add(backoff)
		msg := err.Error()
		if len(msg) > 100 {
			msg = msg[:100]
		}
		p.lastError = &msg
		p.mu.Unlock()
		p.obs.AISHubPoll(observability.PollResultError)
		p.log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": backoff,
		}).Warn("poll failed")
		return
	}

	p.mu.Lock()
	p.lastPoll = &t
	if p.failureCount > 0 {
		p.log.WithField("failures", p.failureCount).Info("recovered")
	}
	p.failureCount = 0
	p.nextRetry = time.Time{}
	p.lastError = nil
	p.mu.Unlock()

	for _, v := range vessels {
		p.registry.Apply(v.mmsi, v.update, "aishub", now)
	}
	p.obs.AISHubPoll(observability.PollResultOK)
	p.obs.VesselCount(p.registry.Len())
	p.log.WithField("vessels", len(vessels)).Debug("poll ok")
}

// backoff starts at the rate-limit interval and doubles per consecutive
// failure, capped at five minutes. Caller holds mu.
func (p *AISHubPoller) backoff() time.Duration {
	if p.failureCount <= 1 {
		return backoffBase
	}
	if p.failureCount > 4 {
		return backoffCap
	}
	d := backoffBase << (p.failureCount - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Status reports poller health for the boats payload.
func (p *AISHubPoller) Status() *boats.AISHubStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &boats.AISHubStatus{
		OK:           p.failureCount == 0,
		LastPoll:     p.lastPoll,
		LastError:    p.lastError,
		FailureCount: p.failureCount,
	}
}

type polledVessel struct {
	mmsi   int64
	update registry.Update
}

func (p *AISHubPoller) fetch(ctx context.Context) ([]polledVessel, error) {
	q := url.Values{
		"username": {p.cfg.APIKey},
		"format":   {"1"},
		"output":   {"json"},
		"compress": {"0"},
		"latmin":   {formatCoord(p.bounds.LatMin)},
		"latmax":   {formatCoord(p.bounds.LatMax)},
		"lonmin":   {formatCoord(p.bounds.LonMin)},
		"lonmax":   {formatCoord(p.bounds.LonMax)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAISHub, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseAISHubResponse(body)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// aishubHeader is the first element of the two-element response array.
type aishubHeader struct {
	Error        bool   `json:"ERROR"`
	ErrorMessage string `json:"ERROR_MESSAGE"`
}

// aishubVessel is one record from the second element.
type aishubVessel struct {
	MMSI      int64    `json:"MMSI"`
	Name      string   `json:"NAME"`
	Latitude  *float64 `json:"LATITUDE"`
	Longitude *float64 `json:"LONGITUDE"`
	SOG       *float64 `json:"SOG"`
	COG       *float64 `json:"COG"`
	Heading   *float64 `json:"HEADING"`
	Type      *int     `json:"TYPE"`
	Dest      string   `json:"DEST"`
	A         int      `json:"A"`
	B         int      `json:"B"`
	C         int      `json:"C"`
	D         int      `json:"D"`
}

// parseAISHubResponse handles the [header, [vessels]] shape, turning the
// header's ERROR flag into an error.
func parseAISHubResponse(body []byte) ([]polledVessel, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("%w: unexpected response: %v", ErrAISHub, err)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	var header aishubHeader
	if err := json.Unmarshal(parts[0], &header); err != nil {
		return nil, fmt.Errorf("%w: bad header: %v", ErrAISHub, err)
	}
	if header.Error {
		msg := header.ErrorMessage
		if msg == "" {
			msg = "unknown"
		}
		return nil, fmt.Errorf("%w: api error: %s", ErrAISHub, msg)
	}
	if len(parts) < 2 {
		return nil, nil
	}

	var raw []aishubVessel
	if err := json.Unmarshal(parts[1], &raw); err != nil {
		return nil, fmt.Errorf("%w: bad vessel list: %v", ErrAISHub, err)
	}

	var out []polledVessel
	for _, v := range raw {
		if !boats.ValidMMSI(v.MMSI) {
			continue
		}
		if v.Latitude == nil || v.Longitude == nil || !validCoordinates(*v.Latitude, *v.Longitude) {
			continue
		}
		u := registry.Update{Lat: v.Latitude, Lon: v.Longitude, SpeedKnots: v.SOG}
		if v.Heading != nil && *v.Heading < 360 {
			u.Heading = v.Heading
		}
		if v.COG != nil && *v.COG < 360 {
			u.Course = v.COG
		}
		if name, ok := boats.SanitizeName(v.Name); ok {
			u.Name = &name
		}
		if dest, ok := boats.SanitizeName(v.Dest); ok {
			u.Destination = &dest
		}
		u.TypeCode = v.Type
		length, width := v.A+v.B, v.C+v.D
		if length > 0 || width > 0 {
			u.Dimensions = &boats.Dimensions{Length: length, Width: width}
		}
		out = append(out, polledVessel{mmsi: v.MMSI, update: u})
	}
	return out, nil
}
