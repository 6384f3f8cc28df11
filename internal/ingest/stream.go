package ingest

import (
	"bytes"
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

	"github.com/flightdeck/skyboard/internal/logger"
)

// TokenSource supplies scoped bearer tokens for the streaming endpoints.
type TokenSource interface {
	ScopedToken(ctx context.Context) (string, error)
}

// Target names the pipe a stream client appends into.
type Target struct {
	Database string
	Schema   string
	Pipe     string
}

// Stats tracks what a stream client has shipped since it was created.
type Stats struct {
	RowsSent  int64
	Batches   int64
	BytesSent int64
	Errors    int64
	Started   time.Time
}

// StreamClient speaks the Snowpipe Streaming v2 REST API: discover the
// ingest host, open a channel on a pipe, append NDJSON row batches with
// continuation/offset tokens, and poll channel status. The offset token
// advances only after a successful append.
type StreamClient struct {
	controlURL string
	target     Target
	tokens     TokenSource
	client     *http.Client

	channelName string

	mu                sync.Mutex
	ingestBase        string
	continuationToken string
	offsetToken       int64
	stats             Stats
}

// NewStreamClient creates a client against the control host (the account
// URL). The channel name gets a timestamp suffix so a restart never collides
// with a stale channel's tokens.
func NewStreamClient(controlURL string, target Target, tokens TokenSource, channelBase string) *StreamClient {
	if channelBase == "" {
		channelBase = "ADSB_CHNL"
	}
	c := &StreamClient{
		controlURL:  controlURL,
		target:      target,
		tokens:      tokens,
		client:      &http.Client{Timeout: 30 * time.Second},
		channelName: fmt.Sprintf("%s_%s", channelBase, time.Now().Format("20060102_150405")),
	}
	c.stats.Started = time.Now()
	logger.L.Info("stream client initialized",
		"database", target.Database, "schema", target.Schema, "pipe", target.Pipe, "channel", c.channelName)
	return c
}

// ChannelName returns the channel this client appends through.
func (c *StreamClient) ChannelName() string { return c.channelName }

func (c *StreamClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("ingest: %s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *StreamClient) authorize(ctx context.Context, req *http.Request, contentType string) error {
	token, err := c.tokens.ScopedToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	return nil
}

// DiscoverIngestHost resolves the host that accepts row data.
func (c *StreamClient) DiscoverIngestHost(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.controlURL+"/v2/streaming/hostname", nil)
	if err != nil {
		return "", err
	}
	if err := c.authorize(ctx, req, "application/json"); err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	// The endpoint answers with either a JSON document or the bare hostname.
	host := ""
	var parsed struct {
		Hostname   string `json:"hostname"`
		IngestHost string `json:"ingest_host"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Hostname != "" {
			host = parsed.Hostname
		} else {
			host = parsed.IngestHost
		}
	}
	if host == "" {
		host = string(bytes.TrimSpace(body))
	}
	if host == "" {
		return "", errors.New("ingest: empty response from hostname endpoint")
	}

	c.mu.Lock()
	c.ingestBase = "https://" + host
	c.mu.Unlock()
	logger.L.Info("ingest host discovered", "host", host)
	return host, nil
}

func (c *StreamClient) ingestURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingestBase
}

// SetIngestBaseURL overrides host discovery with a full base URL. Tests use
// it to point the client at a local server.
func (c *StreamClient) SetIngestBaseURL(base string) {
	c.mu.Lock()
	c.ingestBase = base
	c.mu.Unlock()
	c.controlURL = base
}

func (c *StreamClient) channelPath() string {
	return fmt.Sprintf("/v2/streaming/databases/%s/schemas/%s/pipes/%s/channels/%s",
		c.target.Database, c.target.Schema, c.target.Pipe, c.channelName)
}

type channelStatus struct {
	CommittedOffsetToken     json.Number `json:"committed_offset_token"`
	LastCommittedOffsetToken json.Number `json:"last_committed_offset_token"`
}

type openChannelResponse struct {
	NextContinuationToken string        `json:"next_continuation_token"`
	ChannelStatus         channelStatus `json:"channel_status"`
}

// OpenChannel opens the streaming channel and seeds the continuation and
// offset tokens. The host must have been discovered (or set) first.
func (c *StreamClient) OpenChannel(ctx context.Context) error {
	if c.ingestURL() == "" {
		if _, err := c.DiscoverIngestHost(ctx); err != nil {
			return err
		}
	}

	u := c.ingestURL() + c.channelPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	if err := c.authorize(ctx, req, "application/json"); err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("ingest: open channel: %w", err)
	}

	var out openChannelResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("ingest: open channel response: %w", err)
	}

	c.mu.Lock()
	c.continuationToken = out.NextContinuationToken
	c.offsetToken, _ = out.ChannelStatus.LastCommittedOffsetToken.Int64()
	c.mu.Unlock()

	if out.NextContinuationToken == "" {
		logger.L.Warn("no continuation token received on channel open")
	}
	logger.L.Info("channel opened", "channel", c.channelName, "offset", c.offsetToken)
	return nil
}

// AppendRows ships one batch as NDJSON. The offset token is bumped for the
// attempt and committed locally only when the append succeeds, so a failed
// batch is retried against the same offset.
func (c *StreamClient) AppendRows(ctx context.Context, rows []Record) error {
	if len(rows) == 0 {
		logger.L.Warn("no rows to append")
		return nil
	}

	c.mu.Lock()
	continuation := c.continuationToken
	newOffset := c.offsetToken + 1
	c.mu.Unlock()
	if continuation == "" {
		return errors.New("ingest: channel not opened")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("ingest: encode row: %w", err)
		}
	}

	u := fmt.Sprintf("%s/v2/streaming/data%s/rows?continuationToken=%s&offsetToken=%s",
		c.ingestURL(), c.channelPath(), url.QueryEscape(continuation), strconv.FormatInt(newOffset, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	if err := c.authorize(ctx, req, "application/x-ndjson"); err != nil {
		return err
	}

	body, err := c.do(req)
	if err != nil {
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		return fmt.Errorf("ingest: append rows: %w", err)
	}

	var out openChannelResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("ingest: append response: %w", err)
	}

	c.mu.Lock()
	c.continuationToken = out.NextContinuationToken
	c.offsetToken = newOffset
	c.stats.RowsSent += int64(len(rows))
	c.stats.Batches++
	c.stats.BytesSent += int64(buf.Len())
	c.mu.Unlock()

	logger.L.Info("appended rows", "rows", len(rows), "offset", newOffset)
	return nil
}

// ChannelStatus fetches the committed offset for this channel.
func (c *StreamClient) ChannelStatus(ctx context.Context) (int64, error) {
	u := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s:bulk-channel-status",
		c.ingestURL(), c.target.Database, c.target.Schema, c.target.Pipe)
	payload, _ := json.Marshal(map[string][]string{"channel_names": {c.channelName}})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	if err := c.authorize(ctx, req, "application/json"); err != nil {
		return 0, err
	}
	body, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("ingest: channel status: %w", err)
	}

	var out struct {
		ChannelStatuses map[string]channelStatus `json:"channel_statuses"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("ingest: channel status response: %w", err)
	}
	committed, _ := out.ChannelStatuses[c.channelName].CommittedOffsetToken.Int64()
	return committed, nil
}

// WaitForCommit polls channel status until the expected offset is committed
// or the timeout elapses.
func (c *StreamClient) WaitForCommit(ctx context.Context, expectedOffset int64, timeout, pollInterval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		committed, err := c.ChannelStatus(ctx)
		if err != nil {
			logger.L.Warn("error checking channel status", "error", err)
		} else if committed >= expectedOffset {
			logger.L.Info("data committed", "offset", committed)
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	logger.L.Warn("timeout waiting for commit", "timeout", timeout)
	return false, nil
}

// OffsetToken returns the last locally committed offset.
func (c *StreamClient) OffsetToken() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetToken
}

// Snapshot returns a copy of the running statistics.
func (c *StreamClient) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LogStats writes the running statistics to the log.
func (c *StreamClient) LogStats() {
	s := c.Snapshot()
	elapsed := time.Since(s.Started).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(s.RowsSent) / elapsed
	}
	logger.L.Info("ingestion statistics",
		"rows_sent", s.RowsSent,
		"batches", s.Batches,
		"bytes_sent", s.BytesSent,
		"errors", s.Errors,
		"elapsed_seconds", int64(elapsed),
		"rows_per_second", throughput,
		"offset", c.OffsetToken(),
	)
}
