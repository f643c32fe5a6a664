package bart2sqlite

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ridershipServer serves gzip-compressed extracts keyed by filename, mimicking
// the upstream origin-destination server.
func ridershipServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		csvBody, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write([]byte(csvBody))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

func seedDimensions(t *testing.T, db *sqlite.Conn) {
	t.Helper()
	require.NoError(t, BuildCalendar(db))
	buildTestStations(t, db)
}

func stationID(t *testing.T, db *sqlite.Conn, abbr string) int64 {
	t.Helper()
	return queryInt(t, db, "SELECT id FROM dim_station WHERE abbreviation = ?", abbr)
}

const sample2015 = `2015-06-02,8,12TH,EMBR,42
2015-06-02,8,EMBR,12TH,17
2015-06-02,9,NOPE,EMBR,5
2014-12-31,8,12TH,EMBR,9
`

func TestLoadYear(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{"date-hour-soo-dest-2015.csv.gz": sample2015})

	loader := NewLoader(db, server.URL)
	require.NoError(t, loader.LoadYear(context.Background(), 2015))

	// Every row lands in staging verbatim.
	assert.EqualValues(t, 4, queryInt(t, db, "SELECT COUNT(*) FROM staging_ridership_2015"))
	assert.EqualValues(t, 4, queryInt(t, db, "SELECT COUNT(*) FROM staging_ridership"))

	// The unknown-station row is dropped by the join and the out-of-year row
	// by the defensive date filter.
	assert.EqualValues(t, 2, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership_2015"))

	origin := stationID(t, db, "12TH")
	dest := stationID(t, db, "EMBR")
	matched := queryInt(t, db, `
		SELECT COUNT(*) FROM fact_ridership_2015
		WHERE date_id = 20150602 AND hour = 8
			AND origin_station_id = ? AND destination_station_id = ?
			AND trip_counter = 42`, origin, dest)
	assert.EqualValues(t, 1, matched)
}

func TestLoadYearUnknownStationDropped(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{
		"date-hour-soo-dest-2015.csv.gz": "2015-06-02,8,NOPE,EMBR,5\n",
	})

	loader := NewLoader(db, server.URL)
	require.NoError(t, loader.LoadYear(context.Background(), 2015))

	assert.EqualValues(t, 1, queryInt(t, db, "SELECT COUNT(*) FROM staging_ridership_2015"))
	assert.EqualValues(t, 0, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership_2015"))
}

func TestLoadYearTwiceIdempotent(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{"date-hour-soo-dest-2015.csv.gz": sample2015})

	loader := NewLoader(db, server.URL)
	require.NoError(t, loader.LoadYear(context.Background(), 2015))
	require.NoError(t, loader.LoadYear(context.Background(), 2015))

	assert.EqualValues(t, 4, queryInt(t, db, "SELECT COUNT(*) FROM staging_ridership_2015"))
	assert.EqualValues(t, 2, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership_2015"))
	assert.EqualValues(t, 59, queryInt(t, db, "SELECT SUM(trip_counter) FROM fact_ridership_2015"))
}

func TestLoadYearIsolatedPerYear(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{
		"date-hour-soo-dest-2015.csv.gz": "2015-06-02,8,12TH,EMBR,42\n",
		"date-hour-soo-dest-2016.csv.gz": "2016-03-01,7,EMBR,12TH,11\n",
	})

	loader := NewLoader(db, server.URL)
	require.NoError(t, loader.LoadYear(context.Background(), 2015))
	require.NoError(t, loader.LoadYear(context.Background(), 2016))

	// Reloading 2016 leaves 2015 untouched.
	require.NoError(t, loader.LoadYear(context.Background(), 2016))
	assert.EqualValues(t, 1, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership_2015"))
	assert.EqualValues(t, 1, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership_2016"))

	// The fact_ridership view spans both partitions.
	assert.EqualValues(t, 2, queryInt(t, db, "SELECT COUNT(*) FROM fact_ridership"))
}

func TestLoadYearMissingExtract(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{})

	loader := NewLoader(db, server.URL)
	err := loader.LoadYear(context.Background(), 2015)
	require.Error(t, err)
}

func TestRunRefreshesAggregates(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{"date-hour-soo-dest-2015.csv.gz": sample2015})

	loader := NewLoader(db, server.URL)
	require.NoError(t, loader.Run(context.Background(), []int{2015}))

	assert.EqualValues(t, 59, queryInt(t, db,
		"SELECT ridership_total FROM agg_ridership_by_date WHERE date_id = 20150602"))
}

func TestYears(t *testing.T) {
	years, err := Years(2015, 2018)
	require.NoError(t, err)
	assert.Equal(t, []int{2015, 2016, 2017, 2018}, years)

	years, err = Years(2015, 2015)
	require.NoError(t, err)
	assert.Equal(t, []int{2015}, years)

	_, err = Years(2018, 2015)
	require.Error(t, err)
	_, err = Years(0, 2015)
	require.Error(t, err)
}

func TestDropAll(t *testing.T) {
	db := newTestDB(t)
	seedDimensions(t, db)
	server := ridershipServer(t, map[string]string{"date-hour-soo-dest-2015.csv.gz": sample2015})
	require.NoError(t, NewLoader(db, server.URL).LoadYear(context.Background(), 2015))

	require.NoError(t, DropAll(db))

	var remaining []string
	err := sqlitex.Exec(db,
		"SELECT name FROM sqlite_master WHERE name GLOB '*ridership*' AND type IN ('table', 'view')",
		func(stmt *sqlite.Stmt) error {
			remaining = append(remaining, stmt.GetText("name"))
			return nil
		})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Dimensions survive.
	assert.EqualValues(t, 3, queryInt(t, db, "SELECT COUNT(*) FROM dim_station"))
}
