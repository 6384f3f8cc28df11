package ingest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/flightdeck/skyboard/internal/logger"
)

const (
	fetchTimeout  = 10 * time.Second
	staleCacheAge = 30 * time.Second
)

// Receiver polls a local ADS-B receiver (dump1090, readsb) for its
// aircraft.json snapshot and shapes the aircraft list into warehouse
// records. The feed refreshes roughly every three seconds.
type Receiver struct {
	url      string
	client   *http.Client
	hostname string
	ip       string
	now      func() time.Time

	lastData  []byte
	lastFetch time.Time
}

// NewReceiver creates a receiver client for the aircraft.json endpoint.
func NewReceiver(url string) *Receiver {
	hostname, _ := os.Hostname()
	r := &Receiver{
		url:      url,
		client:   &http.Client{Timeout: fetchTimeout},
		hostname: hostname,
		ip:       localIP(),
		now:      time.Now,
	}
	logger.L.Info("ads-b receiver client initialized", "url", url, "hostname", hostname, "ip", r.ip)
	return r
}

// Verify checks the receiver is reachable and logs how many aircraft it is
// currently tracking. Failure is reported, not fatal: reads retry on every
// attempt.
func (r *Receiver) Verify(ctx context.Context) error {
	data, err := r.fetch(ctx)
	if err != nil {
		logger.L.Warn("cannot connect to ads-b receiver; will retry on each read", "url", r.url, "error", err)
		return err
	}
	count := gjson.GetBytes(data, "aircraft.#").Int()
	logger.L.Info("connected to ads-b receiver", "tracking", count)
	return nil
}

// cacheBustedURL appends a random query string so intermediaries never serve
// a stale snapshot.
func (r *Receiver) cacheBustedURL() string {
	sep := "?"
	for _, c := range r.url {
		if c == '?' {
			sep = "&"
		}
	}
	return fmt.Sprintf("%s%snocache=%d_%d", r.url, sep, r.now().UnixMilli(), 1000+rand.Intn(9000))
}

func (r *Receiver) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cacheBustedURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: receiver returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	r.lastData = body
	r.lastFetch = r.now()
	return body, nil
}

// snapshot fetches the current feed, falling back to a cached snapshot
// younger than 30 seconds when the fetch fails.
func (r *Receiver) snapshot(ctx context.Context) []byte {
	data, err := r.fetch(ctx)
	if err == nil {
		return data
	}
	logger.L.Warn("failed to fetch ads-b data", "error", err)
	if r.lastData != nil && r.now().Sub(r.lastFetch) < staleCacheAge {
		logger.L.Warn("using cached ads-b data")
		return r.lastData
	}
	return []byte(`{"aircraft":[],"now":0,"messages":0}`)
}

// Read takes one snapshot and returns the visible aircraft as warehouse
// records. An unreachable receiver yields an empty slice, never an error:
// the collector loop keeps pacing regardless.
func (r *Receiver) Read(ctx context.Context) []Record {
	data := r.snapshot(ctx)

	now := r.now().UTC()
	tsEpoch := now.Unix()
	timestamp := now.Format(time.RFC3339Nano)
	receiverTime := gjson.GetBytes(data, "now").Float()
	totalMessages := gjson.GetBytes(data, "messages").Int()

	var records []Record
	gjson.GetBytes(data, "aircraft").ForEach(func(_, ac gjson.Result) bool {
		hex := ac.Get("hex").String()
		if hex == "" {
			hex = "unknown"
		}
		rec := Record{
			UUID:          fmt.Sprintf("adsb_%s_%d", hex, tsEpoch),
			RowID:         fmt.Sprintf("%d_%s", tsEpoch, uuid.New()),
			DateTimestamp: timestamp,
			TS:            tsEpoch,
			ICAOHex:       hex,

			Flight:       trimmedString(ac.Get("flight")),
			Registration: optString(ac.Get("r")),
			AircraftType: optString(ac.Get("t")),
			Description:  optString(ac.Get("desc")),

			// alt_baro is "ground" for aircraft on the surface; only numeric
			// readings become altitudes.
			AltitudeBaro:      optNumber(ac.Get("alt_baro")),
			AltitudeGeom:      optNumber(ac.Get("alt_geom")),
			GroundSpeed:       optNumber(ac.Get("gs")),
			Track:             optNumber(ac.Get("track")),
			TrueHeading:       optNumber(ac.Get("true_heading")),
			MagHeading:        optNumber(ac.Get("mag_heading")),
			IndicatedAirspeed: optNumber(ac.Get("ias")),
			TrueAirspeed:      optNumber(ac.Get("tas")),
			Mach:              optNumber(ac.Get("mach")),
			VerticalRate:      optNumber(ac.Get("baro_rate")),
			VerticalRateGeom:  optNumber(ac.Get("geom_rate")),

			Latitude:    optNumber(ac.Get("lat")),
			Longitude:   optNumber(ac.Get("lon")),
			NavAltitude: optNumber(ac.Get("nav_altitude_mcp")),
			NavHeading:  optNumber(ac.Get("nav_heading")),
			NavQNH:      optNumber(ac.Get("nav_qnh")),

			Squawk:    optString(ac.Get("squawk")),
			Category:  optString(ac.Get("category")),
			Emergency: optString(ac.Get("emergency")),

			RSSI:     optNumber(ac.Get("rssi")),
			Messages: optNumber(ac.Get("messages")),
			Seen:     optNumber(ac.Get("seen")),
			SeenPos:  optNumber(ac.Get("seen_pos")),

			Hostname:      r.hostname,
			ReceiverHost:  r.hostname,
			ReceiverIP:    r.ip,
			ReceiverTime:  receiverTime,
			TotalMessages: totalMessages,
		}
		records = append(records, rec)
		return true
	})
	return records
}

// ReadBatch takes count snapshots, pausing between them so consecutive reads
// capture temporal change. Fast mode shrinks the pause to half a second;
// otherwise the pause is at least the feed's three-second refresh.
func (r *Receiver) ReadBatch(ctx context.Context, count int, interval time.Duration, fast bool) []Record {
	pause := interval
	if fast {
		pause = 500 * time.Millisecond
	} else if pause < 3*time.Second {
		pause = 3 * time.Second
	}

	var all []Record
	for i := 0; i < count; i++ {
		all = append(all, r.Read(ctx)...)
		if i < count-1 {
			select {
			case <-ctx.Done():
				return all
			case <-time.After(pause):
			}
		}
	}
	logger.L.Info("read aircraft records", "records", len(all), "snapshots", count)
	return all
}

// Summary reports quick statistics over the current snapshot.
type Summary struct {
	TotalAircraft int     `json:"total_aircraft"`
	WithPosition  int     `json:"with_position"`
	WithAltitude  int     `json:"with_altitude"`
	AvgAltitude   float64 `json:"avg_altitude"`
	TotalMessages int64   `json:"total_messages"`
}

// Summarize fetches one snapshot and aggregates it.
func (r *Receiver) Summarize(ctx context.Context) Summary {
	data := r.snapshot(ctx)
	s := Summary{TotalMessages: gjson.GetBytes(data, "messages").Int()}
	var altSum float64
	gjson.GetBytes(data, "aircraft").ForEach(func(_, ac gjson.Result) bool {
		s.TotalAircraft++
		if ac.Get("lat").Exists() && ac.Get("lon").Exists() {
			s.WithPosition++
		}
		if alt := ac.Get("alt_baro"); alt.Type == gjson.Number {
			s.WithAltitude++
			altSum += alt.Float()
		}
		return true
	})
	if s.WithAltitude > 0 {
		s.AvgAltitude = altSum / float64(s.WithAltitude)
	}
	return s
}

func optNumber(v gjson.Result) *float64 {
	if v.Type != gjson.Number {
		return nil
	}
	f := v.Float()
	return &f
}

func optString(v gjson.Result) *string {
	if !v.Exists() || v.String() == "" {
		return nil
	}
	s := v.String()
	return &s
}

// Callsigns come space-padded from the receiver.
func trimmedString(v gjson.Result) *string {
	s := strings.TrimSpace(v.String())
	if s == "" {
		return nil
	}
	return &s
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
