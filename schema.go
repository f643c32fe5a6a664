package bart2sqlite

import (
	"fmt"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// The warehouse lives in a single database file. The original deployment used
// two Postgres schemas; here the staging tables carry a staging_ prefix and
// everything else is the dimensional model. Staging and fact storage is
// partitioned by year: one physical table per year plus a UNION ALL view over
// whatever partitions exist, so a year can be truncated and reloaded without
// touching any other year.

const dimDateSchema = `
CREATE TABLE dim_date (
	date_id                INTEGER NOT NULL PRIMARY KEY,
	date                   TEXT NOT NULL,
	epoch                  INTEGER NOT NULL,
	day_suffix             TEXT NOT NULL,
	day_name               TEXT NOT NULL,
	day_of_week            INTEGER NOT NULL,
	day_of_month           INTEGER NOT NULL,
	day_of_quarter         INTEGER NOT NULL,
	day_of_year            INTEGER NOT NULL,
	week_of_month          INTEGER NOT NULL,
	week_of_year           INTEGER NOT NULL,
	week_of_year_iso       TEXT NOT NULL,
	month_actual           INTEGER NOT NULL,
	month_name             TEXT NOT NULL,
	month_name_abbreviated TEXT NOT NULL,
	quarter_actual         INTEGER NOT NULL,
	quarter_name           TEXT NOT NULL,
	year_actual            INTEGER NOT NULL,
	first_day_of_week      TEXT NOT NULL,
	last_day_of_week       TEXT NOT NULL,
	first_day_of_month     TEXT NOT NULL,
	last_day_of_month      TEXT NOT NULL,
	first_day_of_quarter   TEXT NOT NULL,
	last_day_of_quarter    TEXT NOT NULL,
	first_day_of_year      TEXT NOT NULL,
	last_day_of_year       TEXT NOT NULL,
	mmyyyy                 TEXT NOT NULL,
	mmddyyyy               TEXT NOT NULL,
	weekend_indr           INTEGER NOT NULL
)`

const dimStationSchema = `
CREATE TABLE dim_station (
	id                 INTEGER PRIMARY KEY,
	abbreviation       TEXT NOT NULL UNIQUE,
	abbreviation_lower TEXT NOT NULL,
	name               TEXT NOT NULL,
	latitude           TEXT NOT NULL DEFAULT '',
	longitude          TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	county             TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	zipcode            TEXT NOT NULL DEFAULT '',
	full_address       TEXT NOT NULL DEFAULT '',
	attraction         TEXT NOT NULL DEFAULT '',
	cross_street       TEXT NOT NULL DEFAULT '',
	food               TEXT NOT NULL DEFAULT '',
	intro              TEXT NOT NULL DEFAULT '',
	link               TEXT NOT NULL DEFAULT '',
	north_platforms    TEXT NOT NULL DEFAULT '',
	north_routes       TEXT NOT NULL DEFAULT '',
	platform_info      TEXT NOT NULL DEFAULT '',
	shopping           TEXT NOT NULL DEFAULT '',
	south_platforms    TEXT NOT NULL DEFAULT '',
	south_routes       TEXT NOT NULL DEFAULT '',
	station_url        TEXT NOT NULL DEFAULT '',
	station_map_url    TEXT NOT NULL DEFAULT ''
)`

func sqlitexNoop(stmt *sqlite.Stmt) error { return nil }

func stagingPartitionName(year int) string {
	return fmt.Sprintf("staging_ridership_%04d", year)
}

func factPartitionName(year int) string {
	return fmt.Sprintf("fact_ridership_%04d", year)
}

// ensureStagingPartition creates the staging partition for year if absent and
// rebuilds the staging_ridership view to cover it.
func ensureStagingPartition(db *sqlite.Conn, year int) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		day          TEXT,
		hour         INTEGER,
		origin       TEXT,
		destination  TEXT,
		trip_counter INTEGER
	)`, stagingPartitionName(year))
	if err := sqlitex.ExecTransient(db, query, sqlitexNoop); err != nil {
		return err
	}
	return rebuildPartitionView(db, "staging_ridership",
		"day, hour, origin, destination, trip_counter")
}

// ensureFactPartition creates the fact partition for year if absent, with its
// composite lookup index, and rebuilds the fact_ridership view.
func ensureFactPartition(db *sqlite.Conn, year int) error {
	table := factPartitionName(year)
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		date_id                INTEGER,
		hour                   INTEGER,
		origin_station_id      INTEGER,
		destination_station_id INTEGER,
		trip_counter           INTEGER
	)`, table)
	if err := sqlitex.ExecTransient(db, query, sqlitexNoop); err != nil {
		return err
	}
	index := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_lookup ON %s (date_id, origin_station_id, destination_station_id)",
		table, table)
	if err := sqlitex.ExecTransient(db, index, sqlitexNoop); err != nil {
		return err
	}
	return rebuildPartitionView(db, "fact_ridership",
		"date_id, hour, origin_station_id, destination_station_id, trip_counter")
}

func truncatePartition(db *sqlite.Conn, table string) error {
	return sqlitex.ExecTransient(db, "DELETE FROM "+table, sqlitexNoop)
}

// rebuildPartitionView recreates the UNION ALL view over every existing
// partition of base. With no partitions the view selects an empty row set so
// readers of the view never fail.
func rebuildPartitionView(db *sqlite.Conn, base string, columns string) error {
	var partitions []string
	err := sqlitex.Exec(db,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB ? ORDER BY name",
		func(stmt *sqlite.Stmt) error {
			partitions = append(partitions, stmt.GetText("name"))
			return nil
		}, base+"_[0-9][0-9][0-9][0-9]")
	if err != nil {
		return err
	}

	var selects []string
	for _, partition := range partitions {
		selects = append(selects, fmt.Sprintf("SELECT %s FROM %s", columns, partition))
	}
	body := strings.Join(selects, " UNION ALL ")
	if body == "" {
		var nulls []string
		for _, col := range strings.Split(columns, ", ") {
			nulls = append(nulls, "NULL AS "+col)
		}
		body = fmt.Sprintf("SELECT %s WHERE 0", strings.Join(nulls, ", "))
	}

	if err := sqlitex.ExecTransient(db, "DROP VIEW IF EXISTS "+base, sqlitexNoop); err != nil {
		return err
	}
	return sqlitex.ExecTransient(db, fmt.Sprintf("CREATE VIEW %s AS %s", base, body), sqlitexNoop)
}

// DropAll removes the staging and fact storage, leaving the dimensions in
// place. Mostly useful when rebuilding a broken warehouse from scratch.
func DropAll(db *sqlite.Conn) error {
	var tables []string
	err := sqlitex.Exec(db,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND (name GLOB 'staging_ridership_[0-9][0-9][0-9][0-9]' OR name GLOB 'fact_ridership_[0-9][0-9][0-9][0-9]')",
		func(stmt *sqlite.Stmt) error {
			tables = append(tables, stmt.GetText("name"))
			return nil
		})
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := sqlitex.ExecTransient(db, "DROP TABLE "+table, sqlitexNoop); err != nil {
			return err
		}
	}
	for _, view := range []string{"staging_ridership", "fact_ridership"} {
		if err := sqlitex.ExecTransient(db, "DROP VIEW IF EXISTS "+view, sqlitexNoop); err != nil {
			return err
		}
	}
	return nil
}
