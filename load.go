package bart2sqlite

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 2 * time.Second
)

// Loader runs the per-year load → transform pipeline. Each year owns its own
// staging and fact partitions, both truncated before reload, so loading a
// year twice produces the same end state and never touches any other year.
type Loader struct {
	db      *sqlite.Conn
	baseURL string
	client  *http.Client
}

func NewLoader(db *sqlite.Conn, baseURL string) *Loader {
	if baseURL == "" {
		panic("Missing baseURL")
	}
	return &Loader{
		db:      db,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Run loads each year in order and then refreshes the aggregates. A failed
// year aborts the run; partitions of already-loaded years are unaffected and
// the failed year can be retried on its own via LoadYear.
func (l *Loader) Run(ctx context.Context, years []int) error {
	for _, year := range years {
		slog.Info(fmt.Sprintf("Loading %d ridership data into the warehouse", year))
		if err := l.LoadYear(ctx, year); err != nil {
			return fmt.Errorf("load year %d: %w", year, err)
		}
	}
	return RefreshAggregates(l.db)
}

// LoadYear stages the year's extract and transforms it into the fact
// partition. It does not refresh aggregates; Run does that once at the end.
func (l *Loader) LoadYear(ctx context.Context, year int) error {
	if err := l.stageYear(ctx, year); err != nil {
		return err
	}
	return l.transformYear(year)
}

// Years expands an inclusive start/end range into the explicit year list Run
// consumes.
func Years(start, end int) ([]int, error) {
	if start <= 0 || end <= 0 {
		return nil, errors.New("years must be positive")
	}
	if end < start {
		return nil, fmt.Errorf("end year %d before start year %d", end, start)
	}
	var years []int
	for year := start; year <= end; year++ {
		years = append(years, year)
	}
	return years, nil
}

// stageYear downloads the year's gzip-compressed extract and loads it
// verbatim into the staging partition. The truncate and every insert happen
// in one transaction: the whole file loads or none of it does.
func (l *Loader) stageYear(ctx context.Context, year int) error {
	if err := ensureStagingPartition(l.db, year); err != nil {
		return err
	}

	body, err := l.fetchYear(ctx, year)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("decompress extract: %w", err)
	}
	defer func() { _ = gz.Close() }()

	return l.copyIntoStaging(year, gz)
}

func (l *Loader) copyIntoStaging(year int, r io.Reader) (err error) {
	table := stagingPartitionName(year)

	defer sqlitex.Save(l.db)(&err)

	if err := truncatePartition(l.db, table); err != nil {
		return err
	}

	insert, err := l.db.Prepare(fmt.Sprintf(
		"INSERT INTO %s (day, hour, origin, destination, trip_counter) VALUES (?1, ?2, ?3, ?4, ?5)", table))
	if err != nil {
		return err
	}

	// The extract has no header row: every line is data.
	inputCSV := csv.NewReader(r)
	inputCSV.FieldsPerRecord = 5

	rowCount := 0
	for {
		row, err := inputCSV.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}

		if err := insert.Reset(); err != nil {
			return err
		}
		if err := insert.ClearBindings(); err != nil {
			return err
		}

		for i, v := range row {
			param := i + 1
			if v == "" {
				insert.BindNull(param)
			} else {
				insert.BindText(param, v)
			}
		}

		for {
			rowReturned, err := insert.Step()
			if err != nil {
				return err
			}
			if !rowReturned {
				break
			}
		}

		rowCount++
	}

	slog.Info(fmt.Sprintf("Wrote %d rows to %s", rowCount, table))
	return nil
}

// transformYear resolves staging rows against the calendar and station
// dimensions and rewrites the year's fact partition. Rows whose origin or
// destination abbreviation has no dim_station match are dropped by the inner
// join; that silent filter is load-bearing for referential integrity and is
// covered by tests.
func (l *Loader) transformYear(year int) (err error) {
	if err := ensureFactPartition(l.db, year); err != nil {
		return err
	}

	factTable := factPartitionName(year)
	stagingTable := stagingPartitionName(year)

	defer sqlitex.Save(l.db)(&err)

	if err := truncatePartition(l.db, factTable); err != nil {
		return err
	}

	// The year bounds are a defensive filter against out-of-range rows in
	// the staging data.
	transform := fmt.Sprintf(`
		INSERT INTO %s (date_id, hour, origin_station_id, destination_station_id, trip_counter)
		SELECT
			dim_date.date_id,
			s.hour,
			origin.id,
			destination.id,
			s.trip_counter
		FROM %s s
		JOIN dim_date ON s.day = dim_date.date
		JOIN dim_station origin ON s.origin = origin.abbreviation
		JOIN dim_station destination ON s.destination = destination.abbreviation
		WHERE s.day BETWEEN ? AND ?`, factTable, stagingTable)

	err = sqlitex.Exec(l.db, transform, sqlitexNoop,
		fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year))
	if err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("Wrote %d rows to %s", l.db.Changes(), factTable))
	return nil
}

// fetchYear GETs the year's extract with bounded retry: transient network
// failures are retried with growing sleeps, anything else propagates and
// aborts the year.
func (l *Loader) fetchYear(ctx context.Context, year int) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/date-hour-soo-dest-%d.csv.gz", l.baseURL, year)

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn(fmt.Sprintf("Retrying %s (attempt %d/%d): %s", u, attempt, fetchAttempts, lastErr))
			select {
			case <-time.After(time.Duration(attempt-1) * fetchBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("GET %s: unexpected status %s", u, resp.Status)
			continue
		}
		return resp.Body, nil
	}
	return nil, lastErr
}
