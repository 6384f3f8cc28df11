package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTokens struct{}

func (stubTokens) ScopedToken(ctx context.Context) (string, error) { return "scoped-xyz", nil }

func testTarget() Target {
	return Target{Database: "FLIGHTS", Schema: "PUBLIC", Pipe: "ADSB_PIPE"}
}

func testRecord(hex string) Record {
	return Record{
		UUID:          "adsb_" + hex + "_1755900000",
		RowID:         "1755900000_" + hex,
		DateTimestamp: "2026-08-23T00:00:00Z",
		TS:            1755900000,
		ICAOHex:       hex,
	}
}

func TestOpenChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "Bearer scoped-xyz", r.Header.Get("Authorization"))
		require.True(t, strings.HasPrefix(r.URL.Path, "/v2/streaming/databases/FLIGHTS/schemas/PUBLIC/pipes/ADSB_PIPE/channels/"))
		w.Write([]byte(`{"next_continuation_token":"cont-1","channel_status":{"last_committed_offset_token":"7"}}`))
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL, testTarget(), stubTokens{}, "ADSB_CHNL")
	c.SetIngestBaseURL(srv.URL)

	require.NoError(t, c.OpenChannel(context.Background()))
	require.Equal(t, int64(7), c.OffsetToken())
	require.True(t, strings.HasPrefix(c.ChannelName(), "ADSB_CHNL_"))
}

func TestAppendRows_ShipsNDJSONAndAdvancesOffset(t *testing.T) {
	var appendCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{"next_continuation_token":"cont-1","channel_status":{"last_committed_offset_token":"0"}}`))
			return
		}
		appendCalls++
		require.True(t, strings.HasSuffix(r.URL.Path, "/rows"))
		require.True(t, strings.HasPrefix(r.URL.Path, "/v2/streaming/data/"))
		require.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		require.Equal(t, fmt.Sprintf("cont-%d", appendCalls), r.URL.Query().Get("continuationToken"))
		require.Equal(t, fmt.Sprintf("%d", appendCalls), r.URL.Query().Get("offsetToken"))

		// One JSON document per line.
		scanner := bufio.NewScanner(r.Body)
		lines := 0
		for scanner.Scan() {
			lines++
			var rec map[string]any
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			require.Contains(t, rec, "icao_hex")
		}
		require.Equal(t, 2, lines)

		w.Write([]byte(fmt.Sprintf(`{"next_continuation_token":"cont-%d"}`, appendCalls+1)))
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL, testTarget(), stubTokens{}, "")
	c.SetIngestBaseURL(srv.URL)
	require.NoError(t, c.OpenChannel(context.Background()))

	rows := []Record{testRecord("a1b2c3"), testRecord("d4e5f6")}
	require.NoError(t, c.AppendRows(context.Background(), rows))
	require.Equal(t, int64(1), c.OffsetToken())

	require.NoError(t, c.AppendRows(context.Background(), rows))
	require.Equal(t, int64(2), c.OffsetToken())

	stats := c.Snapshot()
	require.Equal(t, int64(4), stats.RowsSent)
	require.Equal(t, int64(2), stats.Batches)
	require.Zero(t, stats.Errors)
}

func TestAppendRows_FailureKeepsOffset(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{"next_continuation_token":"cont-1","channel_status":{"last_committed_offset_token":"0"}}`))
			return
		}
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "channel sequencer mismatch")
			return
		}
		require.Equal(t, "1", r.URL.Query().Get("offsetToken"))
		w.Write([]byte(`{"next_continuation_token":"cont-2"}`))
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL, testTarget(), stubTokens{}, "")
	c.SetIngestBaseURL(srv.URL)
	require.NoError(t, c.OpenChannel(context.Background()))

	fail = true
	err := c.AppendRows(context.Background(), []Record{testRecord("a1b2c3")})
	require.Error(t, err)
	require.Zero(t, c.OffsetToken())
	require.Equal(t, int64(1), c.Snapshot().Errors)

	// The retry reuses the same offset.
	fail = false
	require.NoError(t, c.AppendRows(context.Background(), []Record{testRecord("a1b2c3")}))
	require.Equal(t, int64(1), c.OffsetToken())
}

func TestAppendRows_RequiresOpenChannel(t *testing.T) {
	c := NewStreamClient("http://unused", testTarget(), stubTokens{}, "")
	c.SetIngestBaseURL("http://unused")

	err := c.AppendRows(context.Background(), []Record{testRecord("a1b2c3")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not opened")
}

func TestAppendRows_EmptyBatchIsNoop(t *testing.T) {
	c := NewStreamClient("http://unused", testTarget(), stubTokens{}, "")
	require.NoError(t, c.AppendRows(context.Background(), nil))
}

func TestChannelStatusAndWaitForCommit(t *testing.T) {
	committed := int64(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{"next_continuation_token":"cont-1","channel_status":{"last_committed_offset_token":"0"}}`))
			return
		}
		require.True(t, strings.HasSuffix(r.URL.Path, ":bulk-channel-status"))
		var body struct {
			ChannelNames []string `json:"channel_names"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.ChannelNames, 1)

		committed++
		fmt.Fprintf(w, `{"channel_statuses":{"%s":{"committed_offset_token":"%d"}}}`, body.ChannelNames[0], committed)
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL, testTarget(), stubTokens{}, "")
	c.SetIngestBaseURL(srv.URL)
	require.NoError(t, c.OpenChannel(context.Background()))

	ok, err := c.WaitForCommit(context.Background(), 3, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDiscoverIngestHost_PlainTextAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/streaming/hostname", r.URL.Path)
		w.Write([]byte(`{"hostname":"ingest.example.snowflakecomputing.com"}`))
	}))
	defer srv.Close()

	c := NewStreamClient(srv.URL, testTarget(), stubTokens{}, "")
	host, err := c.DiscoverIngestHost(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ingest.example.snowflakecomputing.com", host)

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "bare-host.example.com\n")
	}))
	defer plain.Close()

	c2 := NewStreamClient(plain.URL, testTarget(), stubTokens{}, "")
	host, err = c2.DiscoverIngestHost(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bare-host.example.com", host)
}
