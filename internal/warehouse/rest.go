package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flightdeck/skyboard/internal/logger"
)

const statementsPath = "/api/v2/statements"

// RestQuerier executes statements through the Snowflake SQL REST API using
// key-pair JWT bearer auth. One synchronous request per statement.
type RestQuerier struct {
	baseURL   string
	auth      *KeyPairAuth
	database  string
	schema    string
	warehouse string
	role      string
	client    *http.Client
}

// NewRestQuerier creates a querier bound to the given database/schema
// context. baseURL is normally auth.AccountURL(); tests substitute their
// own.
func NewRestQuerier(baseURL string, auth *KeyPairAuth, database, schema, wh, role string) *RestQuerier {
	return &RestQuerier{
		baseURL:   baseURL,
		auth:      auth,
		database:  database,
		schema:    schema,
		warehouse: wh,
		role:      role,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type statementRequest struct {
	Statement string `json:"statement"`
	Timeout   int    `json:"timeout"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Role      string `json:"role,omitempty"`
}

type statementResponse struct {
	ResultSetMetaData struct {
		RowType []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"rowType"`
	} `json:"resultSetMetaData"`
	Data    [][]*string `json:"data"`
	Message string      `json:"message"`
}

// Query submits one statement and materializes the result set. NULLs come
// back as nil values.
func (q *RestQuerier) Query(ctx context.Context, statement string) (*Table, error) {
	payload, err := json.Marshal(statementRequest{
		Statement: statement,
		Timeout:   60,
		Database:  q.database,
		Schema:    q.schema,
		Warehouse: q.warehouse,
		Role:      q.role,
	})
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+statementsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	token, err := q.auth.Token(ctx)
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Snowflake-Authorization-Token-Type", "KEYPAIR_JWT")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		logger.L.Warn("statement rejected", "status", resp.StatusCode, "body", string(body))
		return nil, &QueryError{Statement: statement, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var out statementResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}

	table := &Table{}
	for _, col := range out.ResultSetMetaData.RowType {
		table.Columns = append(table.Columns, col.Name)
	}
	for _, row := range out.Data {
		values := make([]any, len(row))
		for i, cell := range row {
			if cell != nil {
				values[i] = *cell
			}
		}
		table.Rows = append(table.Rows, values)
	}
	return table, nil
}
