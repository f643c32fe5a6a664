package bart2sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// ErrStationFetch wraps any per-station acquisition failure. The failing
// station's abbreviation is always attached to the error text.
var ErrStationFetch = errors.New("station fetch failed")

// StationAbbreviation is one row of the upstream abbreviation list.
type StationAbbreviation struct {
	Lower string
	Name  string
}

// StationRecord is the structured metadata record for one station. Optional
// fields that are absent upstream are empty strings, never null.
type StationRecord struct {
	Name           string
	Latitude       string
	Longitude      string
	Address        string
	City           string
	County         string
	State          string
	Zipcode        string
	Attraction     string
	CrossStreet    string
	Food           string
	Intro          string
	Link           string
	NorthPlatforms string
	NorthRoutes    string
	PlatformInfo   string
	Shopping       string
	SouthPlatforms string
	SouthRoutes    string
}

// FullAddress composes the postal address by plain concatenation, matching
// the upstream record's formatting.
func (r *StationRecord) FullAddress() string {
	return r.Address + ", " + r.City + ", " + r.State + " " + r.Zipcode
}

// StationSource is the capability interface over the external station data.
// Tests substitute canned fixtures; the live implementation is bartClient.
type StationSource interface {
	// Abbreviations returns the full station list (lowercase abbreviation
	// plus display name).
	Abbreviations(ctx context.Context) ([]StationAbbreviation, error)
	// StationInfo returns the structured metadata record keyed by the
	// lowercase abbreviation.
	StationInfo(ctx context.Context, lowerAbbr string) (*StationRecord, error)
	// StationPage returns the raw HTML of the per-station page.
	StationPage(ctx context.Context, lowerAbbr string) ([]byte, error)
	// StationURL returns the public page URL for the station.
	StationURL(lowerAbbr string) string
}

// StationOpts controls the per-station failure policy of BuildStations.
type StationOpts struct {
	// SkipFailed records a failed station in the issue list and continues
	// instead of aborting the whole rebuild.
	SkipFailed bool
}

type stationRow struct {
	abbr   StationAbbreviation
	record *StationRecord
	mapURL string
}

// BuildStations rebuilds dim_station from src. The rebuild has replace
// semantics: all metadata is fetched first, then the table is dropped and
// repopulated in one transaction, so readers never observe a partial
// dimension. Surrogate ids are assigned in list order and may differ from a
// previous build; the abbreviation is the stable key.
//
// The returned slice lists stations skipped under StationOpts.SkipFailed.
// Without that option the first failure aborts the build.
func BuildStations(ctx context.Context, db *sqlite.Conn, src StationSource, opts *StationOpts) ([]string, error) {
	if opts == nil {
		opts = &StationOpts{}
	}

	abbrs, err := src.Abbreviations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch abbreviation list: %w", err)
	}
	slog.Info(fmt.Sprintf("Building dim_station from %d stations", len(abbrs)))

	var rows []stationRow
	var skipped []string
	for _, abbr := range abbrs {
		row, err := fetchStation(ctx, src, abbr)
		if err != nil {
			if opts.SkipFailed {
				slog.Warn(fmt.Sprintf("Skipping station %s: %s", abbr.Lower, err))
				skipped = append(skipped, abbr.Lower)
				continue
			}
			return skipped, err
		}
		rows = append(rows, *row)
	}

	if err := replaceStations(db, src, rows); err != nil {
		return skipped, err
	}

	slog.Info(fmt.Sprintf("Wrote %d dim_station rows", len(rows)))
	return skipped, nil
}

func fetchStation(ctx context.Context, src StationSource, abbr StationAbbreviation) (*stationRow, error) {
	record, err := src.StationInfo(ctx, abbr.Lower)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: info: %w", ErrStationFetch, abbr.Lower, err)
	}

	page, err := src.StationPage(ctx, abbr.Lower)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: page: %w", ErrStationFetch, abbr.Lower, err)
	}
	mapURL, err := stationMapURL(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStationFetch, abbr.Lower, err)
	}

	return &stationRow{abbr: abbr, record: record, mapURL: mapURL}, nil
}

func replaceStations(db *sqlite.Conn, src StationSource, rows []stationRow) (err error) {
	defer sqlitex.Save(db)(&err)

	if err := sqlitex.ExecTransient(db, "DROP TABLE IF EXISTS dim_station", sqlitexNoop); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(db, dimStationSchema, sqlitexNoop); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(db,
		"CREATE INDEX idx_dim_station_abbreviation ON dim_station (abbreviation)", sqlitexNoop); err != nil {
		return err
	}

	insert, err := db.Prepare(`INSERT INTO dim_station (
		abbreviation, abbreviation_lower, name,
		latitude, longitude,
		address, city, county, state, zipcode, full_address,
		attraction, cross_street, food, intro, link,
		north_platforms, north_routes, platform_info, shopping,
		south_platforms, south_routes,
		station_url, station_map_url
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := insert.Reset(); err != nil {
			return err
		}
		if err := insert.ClearBindings(); err != nil {
			return err
		}

		r := row.record
		name := r.Name
		if name == "" {
			name = row.abbr.Name
		}

		insert.BindText(1, strings.ToUpper(row.abbr.Lower))
		insert.BindText(2, row.abbr.Lower)
		insert.BindText(3, name)
		insert.BindText(4, r.Latitude)
		insert.BindText(5, r.Longitude)
		insert.BindText(6, r.Address)
		insert.BindText(7, r.City)
		insert.BindText(8, r.County)
		insert.BindText(9, r.State)
		insert.BindText(10, r.Zipcode)
		insert.BindText(11, r.FullAddress())
		insert.BindText(12, r.Attraction)
		insert.BindText(13, r.CrossStreet)
		insert.BindText(14, r.Food)
		insert.BindText(15, r.Intro)
		insert.BindText(16, r.Link)
		insert.BindText(17, r.NorthPlatforms)
		insert.BindText(18, r.NorthRoutes)
		insert.BindText(19, r.PlatformInfo)
		insert.BindText(20, r.Shopping)
		insert.BindText(21, r.SouthPlatforms)
		insert.BindText(22, r.SouthRoutes)
		insert.BindText(23, src.StationURL(row.abbr.Lower))
		insert.BindText(24, row.mapURL)

		for {
			rowReturned, err := insert.Step()
			if err != nil {
				return err
			}
			if !rowReturned {
				break
			}
		}
	}

	return nil
}
