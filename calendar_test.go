package bart2sqlite

import (
	"fmt"
	"os"
	"testing"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTempdir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	t.Cleanup(func() {
		if t.Failed() {
			fmt.Println("Preserving tempdir after failed test", dir)
		} else {
			_ = os.RemoveAll(dir)
		}
	})
	return dir
}

func newTestDB(t *testing.T) *sqlite.Conn {
	dir := testTempdir(t)
	db, err := sqlite.OpenConn(dir+"/warehouse.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queryInt(t *testing.T, db *sqlite.Conn, query string, args ...interface{}) int64 {
	t.Helper()
	var out int64
	err := sqlitex.Exec(db, query, func(stmt *sqlite.Stmt) error {
		out = stmt.ColumnInt64(0)
		return nil
	}, args...)
	require.NoError(t, err)
	return out
}

func execTest(t *testing.T, db *sqlite.Conn, query string, args ...interface{}) {
	t.Helper()
	require.NoError(t, sqlitex.Exec(db, query, sqlitexNoop, args...))
}

func queryRows(t *testing.T, db *sqlite.Conn, query string, fn func(stmt *sqlite.Stmt)) {
	t.Helper()
	err := sqlitex.Exec(db, query, func(stmt *sqlite.Stmt) error {
		fn(stmt)
		return nil
	})
	require.NoError(t, err)
}

func TestCalendarRowFields(t *testing.T) {
	row := calendarRow(time.Date(2015, time.June, 2, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, int64(20150602), row.DateID)
	assert.Equal(t, "2015-06-02", row.Date)
	assert.Equal(t, int64(1433203200), row.Epoch)
	assert.Equal(t, "2nd", row.DaySuffix)
	assert.Equal(t, "Tuesday", row.DayName)
	assert.Equal(t, 2, row.DayOfWeek)
	assert.Equal(t, 2, row.DayOfMonth)
	assert.Equal(t, 63, row.DayOfQuarter)
	assert.Equal(t, 153, row.DayOfYear)
	assert.Equal(t, 1, row.WeekOfMonth)
	assert.Equal(t, 23, row.WeekOfYear)
	assert.Equal(t, "2015-W23-2", row.WeekOfYearISO)
	assert.Equal(t, 6, row.MonthActual)
	assert.Equal(t, "June", row.MonthName)
	assert.Equal(t, "Jun", row.MonthNameAbbreviated)
	assert.Equal(t, 2, row.QuarterActual)
	assert.Equal(t, "Second", row.QuarterName)
	assert.Equal(t, 2015, row.YearActual)
	assert.Equal(t, "2015-06-01", row.FirstDayOfWeek)
	assert.Equal(t, "2015-06-07", row.LastDayOfWeek)
	assert.Equal(t, "2015-06-01", row.FirstDayOfMonth)
	assert.Equal(t, "2015-06-30", row.LastDayOfMonth)
	assert.Equal(t, "2015-04-01", row.FirstDayOfQuarter)
	assert.Equal(t, "2015-06-30", row.LastDayOfQuarter)
	assert.Equal(t, "2014-12-29", row.FirstDayOfYear)
	assert.Equal(t, "2016-01-03", row.LastDayOfYear)
	assert.Equal(t, "062015", row.MMYYYY)
	assert.Equal(t, "06022015", row.MMDDYYYY)
	assert.False(t, row.WeekendIndr)
}

func TestCalendarRowISOYearBoundary(t *testing.T) {
	// 2016-01-01 is a Friday in ISO week 53 of 2015.
	row := calendarRow(time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 5, row.DayOfWeek)
	assert.Equal(t, 53, row.WeekOfYear)
	assert.Equal(t, "2015-W53-5", row.WeekOfYearISO)
	assert.Equal(t, 2015, row.YearActual)
	assert.Equal(t, "2014-12-29", row.FirstDayOfYear)
	assert.Equal(t, "2016-01-03", row.LastDayOfYear)
	assert.True(t, row.FirstDayOfYear <= row.Date && row.Date <= row.LastDayOfYear)
}

func TestCalendarRowWeekend(t *testing.T) {
	saturday := calendarRow(time.Date(2015, time.June, 6, 0, 0, 0, 0, time.UTC))
	sunday := calendarRow(time.Date(2015, time.June, 7, 0, 0, 0, 0, time.UTC))
	monday := calendarRow(time.Date(2015, time.June, 8, 0, 0, 0, 0, time.UTC))

	assert.True(t, saturday.WeekendIndr)
	assert.True(t, sunday.WeekendIndr)
	assert.False(t, monday.WeekendIndr)
}

func TestOrdinalSuffix(t *testing.T) {
	cases := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th",
		11: "11th", 12: "12th", 13: "13th",
		21: "21st", 22: "22nd", 23: "23rd", 30: "30th", 31: "31st",
	}
	for day, expected := range cases {
		assert.Equal(t, expected, ordinalSuffix(day))
	}
}

func TestBuildCalendar(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, BuildCalendar(db))

	assert.EqualValues(t, calendarDays, queryInt(t, db, "SELECT COUNT(*) FROM dim_date"))
	assert.EqualValues(t, calendarDays, queryInt(t, db, "SELECT COUNT(DISTINCT date_id) FROM dim_date"))
	assert.EqualValues(t, 20010101, queryInt(t, db, "SELECT MIN(date_id) FROM dim_date"))
	assert.EqualValues(t, 20801231, queryInt(t, db, "SELECT MAX(date_id) FROM dim_date"))

	// date_id is the digits of date, so ordering by date_id is ordering by
	// date: collision-free ids are strictly increasing.
	mismatched := queryInt(t, db,
		"SELECT COUNT(*) FROM dim_date WHERE date_id != CAST(REPLACE(date, '-', '') AS INTEGER)")
	assert.EqualValues(t, 0, mismatched)

	badWeekend := queryInt(t, db, `
		SELECT COUNT(*) FROM dim_date
		WHERE (weekend_indr = 1) != (day_of_week IN (6, 7))`)
	assert.EqualValues(t, 0, badWeekend)

	for _, span := range []string{"week", "month", "quarter", "year"} {
		escaped := queryInt(t, db, fmt.Sprintf(`
			SELECT COUNT(*) FROM dim_date
			WHERE date < first_day_of_%[1]s OR date > last_day_of_%[1]s`, span))
		assert.EqualValues(t, 0, escaped, span)
	}
}

func TestBuildCalendarReplaces(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, BuildCalendar(db))
	require.NoError(t, BuildCalendar(db))

	assert.EqualValues(t, calendarDays, queryInt(t, db, "SELECT COUNT(*) FROM dim_date"))
}
