package warehouse

import (
	"context"
	"database/sql"

	_ "github.com/glebarez/go-sqlite"

	"github.com/flightdeck/skyboard/internal/logger"
)

// SQLiteQuerier is a local warehouse on a SQLite file, for development and
// tests. It speaks the same Querier contract as the hosted warehouse.
type SQLiteQuerier struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLiteQuerier, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, err
	}
	logger.L.Info("sqlite warehouse opened", "path", path)
	return &SQLiteQuerier{db: db}, nil
}

// DB exposes the underlying handle for schema setup.
func (q *SQLiteQuerier) DB() *sql.DB { return q.db }

// Close closes the database.
func (q *SQLiteQuerier) Close() error { return q.db.Close() }

// Query runs one statement and materializes the full result set.
func (q *SQLiteQuerier) Query(ctx context.Context, statement string) (*Table, error) {
	rows, err := q.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Statement: statement, Err: err}
		}
		// database/sql hands back []byte for TEXT affinity; keep strings.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Statement: statement, Err: err}
	}
	return table, nil
}
