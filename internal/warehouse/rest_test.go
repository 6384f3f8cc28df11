package warehouse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRestQuerier_Query(t *testing.T) {
	key := testKey(t)
	auth := NewKeyPairAuth("acct", "user", key)

	var captured statementRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, statementsPath, r.URL.Path)
		require.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		require.Equal(t, "KEYPAIR_JWT", r.Header.Get("X-Snowflake-Authorization-Token-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{
			"resultSetMetaData":{"rowType":[{"name":"AIRCRAFT_TYPE","type":"text"},{"name":"COUNT","type":"fixed"}]},
			"data":[["B738","42"],["A320",null]]
		}`))
	}))
	defer srv.Close()

	q := NewRestQuerier(srv.URL, auth, "FLIGHTS", "PUBLIC", "COMPUTE_WH", "ANALYST")
	table, err := q.Query(context.Background(), "SELECT AIRCRAFT_TYPE, COUNT(*) FROM ADSB_AIRCRAFT_DATA GROUP BY 1")
	require.NoError(t, err)

	require.Equal(t, "FLIGHTS", captured.Database)
	require.Equal(t, "PUBLIC", captured.Schema)
	require.Equal(t, "COMPUTE_WH", captured.Warehouse)
	require.Equal(t, "ANALYST", captured.Role)

	require.Equal(t, []string{"AIRCRAFT_TYPE", "COUNT"}, table.Columns)
	require.Equal(t, 2, table.RowCount())
	require.Equal(t, "42", table.Rows[0][1])
	require.Nil(t, table.Rows[1][1])
}

func TestRestQuerier_ErrorStatusIsQueryError(t *testing.T) {
	key := testKey(t)
	auth := NewKeyPairAuth("acct", "user", key)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"SQL compilation error"}`))
	}))
	defer srv.Close()

	q := NewRestQuerier(srv.URL, auth, "", "", "", "")
	_, err := q.Query(context.Background(), "SELECT broken")
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, "SELECT broken", qe.Statement)
	require.Contains(t, qe.Error(), "422")
}
