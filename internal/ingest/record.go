package ingest

// Record is one aircraft observation shaped for the warehouse table. Field
// names match the table columns; optional values are pointers so absent
// readings land as NULLs rather than zeros.
type Record struct {
	UUID          string `json:"uuid"`
	RowID         string `json:"rowid"`
	DateTimestamp string `json:"datetimestamp"`
	TS            int64  `json:"ts"`

	ICAOHex      string  `json:"icao_hex"`
	Flight       *string `json:"flight,omitempty"`
	Registration *string `json:"registration,omitempty"`
	AircraftType *string `json:"aircraft_type,omitempty"`
	Description  *string `json:"description,omitempty"`

	AltitudeBaro      *float64 `json:"altitude_baro,omitempty"`
	AltitudeGeom      *float64 `json:"altitude_geom,omitempty"`
	GroundSpeed       *float64 `json:"ground_speed,omitempty"`
	Track             *float64 `json:"track,omitempty"`
	TrueHeading       *float64 `json:"true_heading,omitempty"`
	MagHeading        *float64 `json:"mag_heading,omitempty"`
	IndicatedAirspeed *float64 `json:"indicated_airspeed,omitempty"`
	TrueAirspeed      *float64 `json:"true_airspeed,omitempty"`
	Mach              *float64 `json:"mach,omitempty"`
	VerticalRate      *float64 `json:"vertical_rate,omitempty"`
	VerticalRateGeom  *float64 `json:"vertical_rate_geom,omitempty"`

	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	NavAltitude *float64 `json:"nav_altitude,omitempty"`
	NavHeading  *float64 `json:"nav_heading,omitempty"`
	NavQNH      *float64 `json:"nav_qnh,omitempty"`

	Squawk    *string `json:"squawk,omitempty"`
	Category  *string `json:"category,omitempty"`
	Emergency *string `json:"emergency,omitempty"`

	RSSI     *float64 `json:"rssi,omitempty"`
	Messages *float64 `json:"messages,omitempty"`
	Seen     *float64 `json:"seen,omitempty"`
	SeenPos  *float64 `json:"seen_pos,omitempty"`

	Hostname      string  `json:"hostname"`
	ReceiverHost  string  `json:"receiver_host"`
	ReceiverIP    string  `json:"receiver_ip"`
	ReceiverTime  float64 `json:"receiver_time"`
	TotalMessages int64   `json:"total_messages"`
}
