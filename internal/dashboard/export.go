package dashboard

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/unidoc/unioffice/common/license"
	"github.com/unidoc/unioffice/spreadsheet"

	"github.com/flightdeck/skyboard/internal/warehouse"
)

// Pure format transforms from a result table to the download encodings the
// dashboard offers.

var (
	licenseOnce sync.Once
	licenseErr  error
)

// ensureLicense activates the unioffice metered license from
// UNIDOC_LICENSE_API_KEY. unioffice refuses to save workbooks until a
// license is set.
func ensureLicense() error {
	licenseOnce.Do(func() {
		key := os.Getenv("UNIDOC_LICENSE_API_KEY")
		if key == "" {
			licenseErr = errors.New("dashboard: UNIDOC_LICENSE_API_KEY is not set; xlsx export unavailable")
			return
		}
		licenseErr = license.SetMeteredKey(key)
	})
	return licenseErr
}

// WriteCSV encodes the table as CSV with a header row.
func WriteCSV(w io.Writer, t *warehouse.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON encodes the table as an array of column-keyed objects.
func WriteJSON(w io.Writer, t *warehouse.Table) error {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// WriteXLSX encodes the table as a single-sheet workbook.
func WriteXLSX(w io.Writer, t *warehouse.Table) error {
	if err := ensureLicense(); err != nil {
		return err
	}
	wb := spreadsheet.New()
	defer wb.Close()
	sheet := wb.AddSheet()

	header := sheet.AddRow()
	for _, col := range t.Columns {
		header.AddCell().SetString(col)
	}
	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, v := range row {
			cell := r.AddCell()
			switch n := v.(type) {
			case nil:
				// leave empty
			case float64:
				cell.SetNumber(n)
			case int64:
				cell.SetNumber(float64(n))
			default:
				cell.SetString(fmt.Sprint(v))
			}
		}
	}
	return wb.Save(w)
}
