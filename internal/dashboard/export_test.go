package dashboard

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightdeck/skyboard/internal/warehouse"
)

// xlsxLicensed reports whether a unioffice license key is available to this
// run; workbook saving is refused without one.
func xlsxLicensed() bool {
	return os.Getenv("UNIDOC_LICENSE_API_KEY") != ""
}

func exportTable() *warehouse.Table {
	return &warehouse.Table{
		Columns: []string{"ICAO_HEX", "FLIGHT", "ALTITUDE_BARO"},
		Rows: [][]any{
			{"a1b2c3", "UAL123", float64(35000)},
			{"d4e5f6", nil, nil},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, exportTable()))
	require.Equal(t, "ICAO_HEX,FLIGHT,ALTITUDE_BARO\na1b2c3,UAL123,35000\nd4e5f6,,\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, exportTable()))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, "a1b2c3", out[0]["ICAO_HEX"])
	require.Equal(t, float64(35000), out[0]["ALTITUDE_BARO"])
	require.Nil(t, out[1]["FLIGHT"])
}

func TestWriteXLSX(t *testing.T) {
	if !xlsxLicensed() {
		t.Skip("UNIDOC_LICENSE_API_KEY not set")
	}
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, exportTable()))
	// XLSX files are zip archives.
	require.Greater(t, buf.Len(), 4)
	require.Equal(t, []byte{'P', 'K'}, buf.Bytes()[:2])
}

func TestWriteXLSX_WithoutLicenseFailsCleanly(t *testing.T) {
	if xlsxLicensed() {
		t.Skip("license key configured")
	}
	var buf bytes.Buffer
	err := WriteXLSX(&buf, exportTable())
	require.Error(t, err)
	require.Contains(t, err.Error(), "UNIDOC_LICENSE_API_KEY")
	require.Zero(t, buf.Len())
}
