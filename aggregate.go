package bart2sqlite

import (
	"log/slog"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// The four aggregates are plain tables rebuilt by full recompute; they hold
// nothing not reconstructible from fact_ridership and dim_station. Each
// rebuild lands in a __new table that is swapped in atomically, so readers
// never observe a half-built aggregate. Callers must not run two refreshes
// concurrently (single writer).
//
// The per-station aggregates combine origin-side and destination-side counts
// with UNION ALL plus re-aggregation rather than an inner join, so a station
// with trips on only one side of a day still appears, with a zero on the
// other side.
const refreshAggregatesScript = `
DROP TABLE IF EXISTS agg_ridership_by_station_by_date__new;
CREATE TABLE agg_ridership_by_station_by_date__new AS
SELECT
	date_id,
	abbreviation,
	latitude,
	longitude,
	SUM(origin_count) AS origin_count,
	SUM(destination_count) AS destination_count
FROM (
	SELECT
		fr.date_id,
		ds.abbreviation,
		ds.latitude,
		ds.longitude,
		COUNT(1) AS origin_count,
		0 AS destination_count
	FROM fact_ridership fr
	JOIN dim_station ds ON fr.origin_station_id = ds.id
	GROUP BY fr.date_id, ds.abbreviation, ds.latitude, ds.longitude
	UNION ALL
	SELECT
		fr.date_id,
		ds.abbreviation,
		ds.latitude,
		ds.longitude,
		0 AS origin_count,
		COUNT(1) AS destination_count
	FROM fact_ridership fr
	JOIN dim_station ds ON fr.destination_station_id = ds.id
	GROUP BY fr.date_id, ds.abbreviation, ds.latitude, ds.longitude
)
GROUP BY date_id, abbreviation, latitude, longitude;
DROP TABLE IF EXISTS agg_ridership_by_station_by_date;
ALTER TABLE agg_ridership_by_station_by_date__new RENAME TO agg_ridership_by_station_by_date;
CREATE INDEX idx_agg_by_station_by_date ON agg_ridership_by_station_by_date (date_id, abbreviation);

DROP TABLE IF EXISTS agg_ridership_by_hour_by_date__new;
CREATE TABLE agg_ridership_by_hour_by_date__new AS
SELECT
	date_id,
	hour,
	SUM(trip_counter) AS ridership_total
FROM fact_ridership
GROUP BY date_id, hour;
DROP TABLE IF EXISTS agg_ridership_by_hour_by_date;
ALTER TABLE agg_ridership_by_hour_by_date__new RENAME TO agg_ridership_by_hour_by_date;
CREATE INDEX idx_agg_by_hour_by_date ON agg_ridership_by_hour_by_date (date_id);

DROP TABLE IF EXISTS agg_ridership_by_hour_by_station_by_date__new;
CREATE TABLE agg_ridership_by_hour_by_station_by_date__new AS
SELECT
	date_id,
	abbreviation,
	hour,
	SUM(origin_ridership_total) AS origin_ridership_total,
	SUM(destination_ridership_total) AS destination_ridership_total
FROM (
	SELECT
		fr.date_id,
		ds.abbreviation,
		fr.hour,
		COUNT(1) AS origin_ridership_total,
		0 AS destination_ridership_total
	FROM fact_ridership fr
	JOIN dim_station ds ON fr.origin_station_id = ds.id
	GROUP BY fr.date_id, ds.abbreviation, fr.hour
	UNION ALL
	SELECT
		fr.date_id,
		ds.abbreviation,
		fr.hour,
		0 AS origin_ridership_total,
		COUNT(1) AS destination_ridership_total
	FROM fact_ridership fr
	JOIN dim_station ds ON fr.destination_station_id = ds.id
	GROUP BY fr.date_id, ds.abbreviation, fr.hour
)
GROUP BY date_id, abbreviation, hour;
DROP TABLE IF EXISTS agg_ridership_by_hour_by_station_by_date;
ALTER TABLE agg_ridership_by_hour_by_station_by_date__new RENAME TO agg_ridership_by_hour_by_station_by_date;
CREATE INDEX idx_agg_by_hour_by_station_by_date ON agg_ridership_by_hour_by_station_by_date (date_id, abbreviation);

DROP TABLE IF EXISTS agg_ridership_by_date__new;
CREATE TABLE agg_ridership_by_date__new AS
SELECT
	date_id,
	SUM(trip_counter) AS ridership_total
FROM fact_ridership
GROUP BY date_id;
DROP TABLE IF EXISTS agg_ridership_by_date;
ALTER TABLE agg_ridership_by_date__new RENAME TO agg_ridership_by_date;
CREATE INDEX idx_agg_by_date ON agg_ridership_by_date (date_id);
`

// RefreshAggregates rebuilds all four aggregates from the current fact and
// station tables. It must run after any fact-table mutation; nothing updates
// the aggregates automatically.
func RefreshAggregates(db *sqlite.Conn) error {
	slog.Info("Refreshing aggregates")
	if err := sqlitex.ExecScript(db, refreshAggregatesScript); err != nil {
		return err
	}
	slog.Info("Refreshed aggregates")
	return nil
}
