package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flightdeck/skyboard/internal/logger"
	"github.com/flightdeck/skyboard/internal/warehouse"
)

// MaxRows caps every filtered read.
const MaxRows = 5000

// Filters narrows the recent-observations read. Zero values mean unset.
type Filters struct {
	AircraftType string
	Category     string
	MinAltitude  *float64
	MaxAltitude  *float64
}

// Store serves the dashboard's own reads over the aircraft table: the
// filtered recent-observations view and the distinct-value lookups that
// populate filter widgets. Results flow through the read cache so repeated
// renders of the same filter set hit the warehouse once per TTL.
type Store struct {
	querier warehouse.Querier
	table   string
	cache   *Cache
}

// NewStore creates a store over the named table.
func NewStore(querier warehouse.Querier, table string, cache *Cache) *Store {
	return &Store{querier: querier, table: table, cache: cache}
}

// quoteLiteral embeds a value as a SQL string literal with single quotes
// doubled.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// Recent returns the most recent observations matching all set filters,
// newest first, capped at MaxRows.
func (s *Store) Recent(ctx context.Context, f Filters) (*warehouse.Table, error) {
	var where []string
	if f.AircraftType != "" {
		where = append(where, "AIRCRAFT_TYPE = "+quoteLiteral(f.AircraftType))
	}
	if f.Category != "" {
		where = append(where, "CATEGORY = "+quoteLiteral(f.Category))
	}
	if f.MinAltitude != nil {
		where = append(where, fmt.Sprintf("ALTITUDE_BARO >= %g", *f.MinAltitude))
	}
	if f.MaxAltitude != nil {
		where = append(where, fmt.Sprintf("ALTITUDE_BARO <= %g", *f.MaxAltitude))
	}

	stmt := "SELECT * FROM " + s.table
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += fmt.Sprintf(" ORDER BY DATETIMESTAMP DESC LIMIT %d", MaxRows)

	return s.cached(ctx, stmt)
}

// DistinctAircraftTypes lists the aircraft types present in the table.
func (s *Store) DistinctAircraftTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "AIRCRAFT_TYPE")
}

// DistinctCategories lists the emitter categories present in the table.
func (s *Store) DistinctCategories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "CATEGORY")
}

func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	stmt := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY 1", column, s.table, column)
	table, err := s.cached(ctx, stmt)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if len(row) > 0 && row[0] != nil {
			values = append(values, fmt.Sprint(row[0]))
		}
	}
	return values, nil
}

// cached runs the statement through the read cache, keyed by its text.
func (s *Store) cached(ctx context.Context, stmt string) (*warehouse.Table, error) {
	if data, ok := s.cache.Get(ctx, stmt); ok {
		var table warehouse.Table
		if err := json.Unmarshal(data, &table); err == nil {
			return &table, nil
		}
		logger.L.Warn("discarding undecodable cache entry", "key", stmt)
	}

	table, err := s.querier.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(table); err == nil {
		s.cache.Set(ctx, stmt, data)
	}
	return table, nil
}
