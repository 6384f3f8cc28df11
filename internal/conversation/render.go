package conversation

import (
	"context"

	"github.com/flightdeck/skyboard/internal/analyst"
	"github.com/flightdeck/skyboard/internal/logger"
	"github.com/flightdeck/skyboard/internal/warehouse"
)

// BlockKind tags one renderable unit of an analyst reply.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockSQL         BlockKind = "sql"
	BlockTable       BlockKind = "table"
	BlockChart       BlockKind = "chart"
	BlockSuggestions BlockKind = "suggestions"
	BlockError       BlockKind = "error"
)

// Block is one display unit produced from a content item. A SQL content item
// expands into several blocks: the literal statement (for transparency), the
// tabulated result, and a chart when the shape supports one.
type Block struct {
	Kind        BlockKind        `json:"kind"`
	Text        string           `json:"text,omitempty"`
	Statement   string           `json:"statement,omitempty"`
	Table       *warehouse.Table `json:"table,omitempty"`
	Chart       *ChartSpec       `json:"chart,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ChartSpec describes a line chart over a table block: the first column is
// the categorical/time axis, every other column a series. The data rides in
// the preceding table block.
type ChartSpec struct {
	XColumn string   `json:"x_column"`
	Series  []string `json:"series"`
}

// Render turns a content sequence into display blocks. Text and suggestions
// pass through. Each SQL statement is shown verbatim, then executed against
// the warehouse; the result is tabulated, and charted when it has more than
// one row and at least two columns. A statement that fails to execute yields
// an inline error block and never aborts the rendering of sibling items.
func Render(ctx context.Context, items []analyst.ContentItem, querier warehouse.Querier) []Block {
	blocks := make([]Block, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case analyst.Text:
			blocks = append(blocks, Block{Kind: BlockText, Text: v.Text})
		case analyst.SQL:
			blocks = append(blocks, Block{Kind: BlockSQL, Statement: v.Statement})
			table, err := querier.Query(ctx, v.Statement)
			if err != nil {
				logger.L.Warn("generated sql failed", "statement", v.Statement, "error", err)
				blocks = append(blocks, Block{Kind: BlockError, Statement: v.Statement, Error: err.Error()})
				continue
			}
			blocks = append(blocks, Block{Kind: BlockTable, Table: table})
			if table.RowCount() > 1 && table.ColumnCount() >= 2 {
				blocks = append(blocks, Block{Kind: BlockChart, Chart: &ChartSpec{
					XColumn: table.Columns[0],
					Series:  table.Columns[1:],
				}})
			}
		case analyst.Suggestions:
			blocks = append(blocks, Block{Kind: BlockSuggestions, Suggestions: v.Suggestions})
		}
	}
	return blocks
}
