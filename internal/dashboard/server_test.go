package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightdeck/skyboard/internal/analyst"
	"github.com/flightdeck/skyboard/internal/conversation"
)

// scriptedAnalyst returns the same reply to every question.
type scriptedAnalyst struct {
	reply []analyst.ContentItem
	err   error
}

func (s *scriptedAnalyst) SendMessage(ctx context.Context, history []analyst.Message, view string) ([]analyst.ContentItem, error) {
	return s.reply, s.err
}

func testServer(t *testing.T, client analyst.Client) *Server {
	t.Helper()
	store, q := seededStore(t)
	return NewServer(store, q, client, "ADSB_SEMANTIC_VIEW")
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnalystMessage_RendersBlocks(t *testing.T) {
	client := &scriptedAnalyst{reply: []analyst.ContentItem{
		analyst.Text{Text: "2 heavies aloft"},
		analyst.SQL{Statement: "SELECT ICAO_HEX, ALTITUDE_BARO FROM ADSB_AIRCRAFT_DATA WHERE ALTITUDE_BARO > 10000"},
	}}
	srv := testServer(t, client)

	rec := doJSON(t, srv.Mux(), http.MethodPost, "/api/analyst/message", `{"question":"How many heavies?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Blocks []conversation.Block `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Blocks, 4) // text, sql, table, chart
	require.Equal(t, conversation.BlockText, resp.Blocks[0].Kind)
	require.Equal(t, conversation.BlockSQL, resp.Blocks[1].Kind)
	require.Equal(t, conversation.BlockTable, resp.Blocks[2].Kind)
	require.Equal(t, conversation.BlockChart, resp.Blocks[3].Kind)
	require.Equal(t, 2, resp.Blocks[2].Table.RowCount())
}

func TestHandleAnalystMessage_ErrorStatuses(t *testing.T) {
	srv := testServer(t, &scriptedAnalyst{err: &analyst.TransportError{Status: 500, Body: "internal error"}})
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodPost, "/api/analyst/message", `{"question":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/analyst/message", `{"question":"q"}`, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "internal error")
}

func TestSessionsAreIndependent(t *testing.T) {
	client := &scriptedAnalyst{reply: []analyst.ContentItem{analyst.Text{Text: "ok"}}}
	srv := testServer(t, client)
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodPost, "/api/analyst/message", `{"question":"q1"}`, map[string]string{"X-Session-Id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	// bob's history is untouched by alice's conversation.
	rec = doJSON(t, mux, http.MethodGet, "/api/analyst/history", "", map[string]string{"X-Session-Id": "bob"})
	var bob struct {
		Messages []analyst.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bob))
	require.Empty(t, bob.Messages)

	rec = doJSON(t, mux, http.MethodGet, "/api/analyst/history", "", map[string]string{"X-Session-Id": "alice"})
	var alice struct {
		Messages []analyst.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alice))
	require.Len(t, alice.Messages, 2)

	// Clearing alice leaves her session fresh.
	rec = doJSON(t, mux, http.MethodPost, "/api/analyst/clear", "", map[string]string{"X-Session-Id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodGet, "/api/analyst/history", "", map[string]string{"X-Session-Id": "alice"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alice))
	require.Empty(t, alice.Messages)
}

func TestHandleAircraft_FilterParsing(t *testing.T) {
	srv := testServer(t, &scriptedAnalyst{})
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodGet, "/api/aircraft?type=B738&min_altitude=10000", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var table struct {
		Rows [][]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &table))
	require.Len(t, table.Rows, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/aircraft?min_altitude=high", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAircraftLookups(t *testing.T) {
	srv := testServer(t, &scriptedAnalyst{})
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodGet, "/api/aircraft/types", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"types":["A320","B738"]}`, rec.Body.String())

	rec = doJSON(t, mux, http.MethodGet, "/api/aircraft/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"categories":["A3","A5"]}`, rec.Body.String())
}

func TestHandleExport(t *testing.T) {
	srv := testServer(t, &scriptedAnalyst{})
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodGet, "/api/aircraft/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "aircraft.csv")
	require.True(t, strings.HasPrefix(rec.Body.String(), "DATETIMESTAMP,"))

	rec = doJSON(t, mux, http.MethodGet, "/api/aircraft/export?format=json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 4)

	rec = doJSON(t, mux, http.MethodGet, "/api/aircraft/export?format=xlsx", "", nil)
	if xlsxLicensed() {
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, []byte{'P', 'K'}, rec.Body.Bytes()[:2])
	} else {
		// An encoder failure is a clean error response, never a committed
		// 200 with an empty attachment.
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Empty(t, rec.Header().Get("Content-Disposition"))
		require.Contains(t, rec.Body.String(), "error")
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/aircraft/export?format=pdf", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionRegistryIsBounded(t *testing.T) {
	client := &scriptedAnalyst{reply: []analyst.ContentItem{analyst.Text{Text: "ok"}}}
	srv := testServer(t, client)
	mux := srv.Mux()

	for i := 0; i < maxSessions+20; i++ {
		rec := doJSON(t, mux, http.MethodGet, "/api/analyst/history", "",
			map[string]string{"X-Session-Id": fmt.Sprintf("visitor-%d", i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.LessOrEqual(t, len(srv.sessions), maxSessions)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, &scriptedAnalyst{})
	rec := doJSON(t, srv.Mux(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
