package warehouse

import (
	"context"
	"fmt"
)

// Table is a tabular query result. Row values keep whatever type the driver
// produced; exports and charts format them on the way out.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int { return len(t.Columns) }

// Querier executes one SQL statement against the warehouse and returns the
// result set. The statement is treated as opaque text.
type Querier interface {
	Query(ctx context.Context, statement string) (*Table, error)
}

// QueryError reports a single statement that failed to execute. It is scoped
// to that statement: callers keep processing sibling work.
type QueryError struct {
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("warehouse: query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
