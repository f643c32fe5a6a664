package bart2sqlite

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Queries is the fixed menu of reads the presentation layer is allowed. All
// date parameters are normalized to the YYYYMMDD integer form and every value
// is bound, never formatted into SQL: several of these parameters originate
// from user input.
type Queries struct {
	db *sqlite.Conn
}

func NewQueries(db *sqlite.Conn) *Queries {
	return &Queries{db: db}
}

// parseDateID normalizes "YYYY-MM-DD" (or bare "YYYYMMDD") to the integer
// date identifier.
func parseDateID(date string) (int64, error) {
	digits := strings.ReplaceAll(date, "-", "")
	if len(digits) != 8 {
		return 0, fmt.Errorf("invalid date %q", date)
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q", date)
	}
	return id, nil
}

// RidershipRow is one trip-count observation joined against both dimensions.
type RidershipRow struct {
	Date               string
	Hour               int64
	OriginStation      string
	DestinationStation string
	TripCounter        int64
}

func (q *Queries) RidershipByDate(date string) ([]RidershipRow, error) {
	id, err := parseDateID(date)
	if err != nil {
		return nil, err
	}

	var rows []RidershipRow
	err = sqlitex.Exec(q.db, `
		SELECT
			dd.date AS date,
			fr.hour AS hour,
			origin.name AS origin_station,
			dest.name AS destination_station,
			fr.trip_counter AS trip_counter
		FROM fact_ridership fr
		JOIN dim_date dd ON fr.date_id = dd.date_id
		JOIN dim_station origin ON fr.origin_station_id = origin.id
		JOIN dim_station dest ON fr.destination_station_id = dest.id
		WHERE fr.date_id = ?
		ORDER BY hour, origin_station, destination_station`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, RidershipRow{
				Date:               stmt.GetText("date"),
				Hour:               stmt.GetInt64("hour"),
				OriginStation:      stmt.GetText("origin_station"),
				DestinationStation: stmt.GetText("destination_station"),
				TripCounter:        stmt.GetInt64("trip_counter"),
			})
			return nil
		}, id)
	return rows, err
}

// RidershipDetailRow is the wide row behind the dashboard's main table.
type RidershipDetailRow struct {
	Date                     string
	DayName                  string
	Weekend                  bool
	Hour                     int64
	OriginStation            string
	DestinationStation       string
	OriginAbbreviation       string
	DestinationAbbreviation  string
	OriginFullAddress        string
	DestinationFullAddress   string
	OriginStationMapURL      string
	DestinationStationMapURL string
	TripCounter              int64
}

func (q *Queries) RidershipDetailByDate(date string) ([]RidershipDetailRow, error) {
	id, err := parseDateID(date)
	if err != nil {
		return nil, err
	}

	var rows []RidershipDetailRow
	err = sqlitex.Exec(q.db, `
		SELECT
			dd.date AS date,
			dd.day_name AS day_name,
			dd.weekend_indr AS weekend_indr,
			fr.hour AS hour,
			origin.name AS origin_station,
			dest.name AS destination_station,
			origin.abbreviation AS origin_abbreviation,
			dest.abbreviation AS destination_abbreviation,
			origin.full_address AS origin_full_address,
			dest.full_address AS destination_full_address,
			origin.station_map_url AS origin_station_map_url,
			dest.station_map_url AS destination_station_map_url,
			fr.trip_counter AS trip_counter
		FROM fact_ridership fr
		JOIN dim_date dd ON fr.date_id = dd.date_id
		JOIN dim_station origin ON fr.origin_station_id = origin.id
		JOIN dim_station dest ON fr.destination_station_id = dest.id
		WHERE fr.date_id = ?
		ORDER BY hour, origin_station, destination_station`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, RidershipDetailRow{
				Date:                     stmt.GetText("date"),
				DayName:                  stmt.GetText("day_name"),
				Weekend:                  stmt.GetInt64("weekend_indr") != 0,
				Hour:                     stmt.GetInt64("hour"),
				OriginStation:            stmt.GetText("origin_station"),
				DestinationStation:       stmt.GetText("destination_station"),
				OriginAbbreviation:       stmt.GetText("origin_abbreviation"),
				DestinationAbbreviation:  stmt.GetText("destination_abbreviation"),
				OriginFullAddress:        stmt.GetText("origin_full_address"),
				DestinationFullAddress:   stmt.GetText("destination_full_address"),
				OriginStationMapURL:      stmt.GetText("origin_station_map_url"),
				DestinationStationMapURL: stmt.GetText("destination_station_map_url"),
				TripCounter:              stmt.GetInt64("trip_counter"),
			})
			return nil
		}, id)
	return rows, err
}

// DateCount is a per-date trip total.
type DateCount struct {
	Date        string
	TripCounter int64
}

func (q *Queries) DateCountsByYear(year int) ([]DateCount, error) {
	if year <= 0 {
		return nil, fmt.Errorf("invalid year %d", year)
	}

	var rows []DateCount
	err := sqlitex.Exec(q.db, `
		SELECT
			dd.date AS date,
			SUM(fr.trip_counter) AS trip_counter
		FROM fact_ridership fr
		JOIN dim_date dd ON fr.date_id = dd.date_id
		WHERE fr.date_id BETWEEN ? AND ?
		GROUP BY dd.date
		ORDER BY dd.date`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, DateCount{
				Date:        stmt.GetText("date"),
				TripCounter: stmt.GetInt64("trip_counter"),
			})
			return nil
		}, int64(year)*10000+101, int64(year)*10000+1231)
	return rows, err
}

// YearCount is a per-year trip total.
type YearCount struct {
	Year        string
	TripCounter int64
}

func (q *Queries) RidershipByYear() ([]YearCount, error) {
	var rows []YearCount
	err := sqlitex.Exec(q.db, `
		SELECT
			SUBSTR(CAST(date_id AS TEXT), 1, 4) AS year,
			SUM(trip_counter) AS trip_counter
		FROM fact_ridership
		GROUP BY 1
		ORDER BY 1`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, YearCount{
				Year:        stmt.GetText("year"),
				TripCounter: stmt.GetInt64("trip_counter"),
			})
			return nil
		})
	return rows, err
}

// StationLocation is a station point for the dashboard map.
type StationLocation struct {
	Abbreviation string
	Latitude     string
	Longitude    string
}

func (q *Queries) StationLocations() ([]StationLocation, error) {
	var rows []StationLocation
	err := sqlitex.Exec(q.db,
		"SELECT abbreviation, latitude, longitude FROM dim_station ORDER BY abbreviation",
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, StationLocation{
				Abbreviation: stmt.GetText("abbreviation"),
				Latitude:     stmt.GetText("latitude"),
				Longitude:    stmt.GetText("longitude"),
			})
			return nil
		})
	return rows, err
}

// HourStationCount is one row of the by-hour-by-station aggregate.
type HourStationCount struct {
	Hour                      int64
	OriginRidershipTotal      int64
	DestinationRidershipTotal int64
}

func (q *Queries) RidershipByHourByStationAndDate(date, stationAbbr string) ([]HourStationCount, error) {
	id, err := parseDateID(date)
	if err != nil {
		return nil, err
	}

	var rows []HourStationCount
	err = sqlitex.Exec(q.db, `
		SELECT
			hour,
			origin_ridership_total,
			destination_ridership_total
		FROM agg_ridership_by_hour_by_station_by_date
		WHERE date_id = ? AND abbreviation = ?
		ORDER BY hour`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, HourStationCount{
				Hour:                      stmt.GetInt64("hour"),
				OriginRidershipTotal:      stmt.GetInt64("origin_ridership_total"),
				DestinationRidershipTotal: stmt.GetInt64("destination_ridership_total"),
			})
			return nil
		}, id, stationAbbr)
	return rows, err
}

// HourCount is one row of the by-hour aggregate.
type HourCount struct {
	Hour           int64
	RidershipTotal int64
}

func (q *Queries) RidershipByHourByDate(date string) ([]HourCount, error) {
	id, err := parseDateID(date)
	if err != nil {
		return nil, err
	}

	var rows []HourCount
	err = sqlitex.Exec(q.db, `
		SELECT hour, ridership_total
		FROM agg_ridership_by_hour_by_date
		WHERE date_id = ?
		ORDER BY hour`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, HourCount{
				Hour:           stmt.GetInt64("hour"),
				RidershipTotal: stmt.GetInt64("ridership_total"),
			})
			return nil
		}, id)
	return rows, err
}

// StationDayCount is one row of the by-station aggregate.
type StationDayCount struct {
	Abbreviation     string
	Latitude         string
	Longitude        string
	OriginCount      int64
	DestinationCount int64
}

func (q *Queries) RidershipByStationByDate(date string) ([]StationDayCount, error) {
	id, err := parseDateID(date)
	if err != nil {
		return nil, err
	}

	var rows []StationDayCount
	err = sqlitex.Exec(q.db, `
		SELECT abbreviation, latitude, longitude, origin_count, destination_count
		FROM agg_ridership_by_station_by_date
		WHERE date_id = ?
		ORDER BY abbreviation`,
		func(stmt *sqlite.Stmt) error {
			rows = append(rows, StationDayCount{
				Abbreviation:     stmt.GetText("abbreviation"),
				Latitude:         stmt.GetText("latitude"),
				Longitude:        stmt.GetText("longitude"),
				OriginCount:      stmt.GetInt64("origin_count"),
				DestinationCount: stmt.GetInt64("destination_count"),
			})
			return nil
		}, id)
	return rows, err
}

// TotalRidershipByDate returns the day's trip total from the by-day
// aggregate, or 0 if the day has no rows.
func (q *Queries) TotalRidershipByDate(date string) (int64, error) {
	id, err := parseDateID(date)
	if err != nil {
		return 0, err
	}

	var total int64
	err = sqlitex.Exec(q.db,
		"SELECT ridership_total FROM agg_ridership_by_date WHERE date_id = ?",
		func(stmt *sqlite.Stmt) error {
			total = stmt.GetInt64("ridership_total")
			return nil
		}, id)
	return total, err
}

// StationDetails is the dashboard's station info card.
type StationDetails struct {
	Name          string
	FullAddress   string
	Intro         string
	Link          string
	StationMapURL string
}

func (q *Queries) StationInfo(stationAbbr string) (*StationDetails, error) {
	var details *StationDetails
	err := sqlitex.Exec(q.db, `
		SELECT name, full_address, intro, link, station_map_url
		FROM dim_station
		WHERE abbreviation = ?`,
		func(stmt *sqlite.Stmt) error {
			details = &StationDetails{
				Name:          stmt.GetText("name"),
				FullAddress:   stmt.GetText("full_address"),
				Intro:         stmt.GetText("intro"),
				Link:          stmt.GetText("link"),
				StationMapURL: stmt.GetText("station_map_url"),
			}
			return nil
		}, stationAbbr)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, fmt.Errorf("no station %q", stationAbbr)
	}
	return details, nil
}

// Tables the CSV download surface may dump. Everything else is refused, so a
// table name arriving from the presentation layer can never reach SQL
// unchecked.
var dumpableTables = map[string]bool{
	"dim_date":    true,
	"dim_station": true,
	"agg_ridership_by_station_by_date":         true,
	"agg_ridership_by_hour_by_date":            true,
	"agg_ridership_by_hour_by_station_by_date": true,
	"agg_ridership_by_date":                    true,
}

// DumpTableCSV writes the named table as CSV with a header row. Only the
// allow-listed tables can be dumped.
func (q *Queries) DumpTableCSV(w io.Writer, table string) error {
	if !dumpableTables[table] {
		return fmt.Errorf("table %q cannot be dumped", table)
	}

	out := csv.NewWriter(w)

	var cols []string
	err := sqlitex.Exec(q.db, "SELECT name FROM pragma_table_info(?)", func(stmt *sqlite.Stmt) error {
		cols = append(cols, stmt.GetText("name"))
		return nil
	}, table)
	if err != nil {
		return err
	}
	if err := out.Write(cols); err != nil {
		return err
	}

	err = sqlitex.Exec(q.db, "SELECT * FROM "+table, func(stmt *sqlite.Stmt) error {
		var row []string
		for _, col := range cols {
			row = append(row, stmt.GetText(col))
		}
		return out.Write(row)
	})
	if err != nil {
		return err
	}

	out.Flush()
	return out.Error()
}
