package bart2sqlite

import (
	"fmt"
	"log/slog"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// The calendar dimension covers a fixed span: calendarDays consecutive days
// starting at calendarEpoch. Every column is a pure function of the date, so
// the table is generated once and never updated.
var calendarEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

const calendarDays = 29220

var quarterNames = [4]string{"First", "Second", "Third", "Fourth"}

// BuildCalendar drops and regenerates dim_date over the full span. Re-running
// it is a full replace, never a merge.
func BuildCalendar(db *sqlite.Conn) (err error) {
	slog.Info(fmt.Sprintf("Generating dim_date (%d days from %s)",
		calendarDays, calendarEpoch.Format(time.DateOnly)))

	defer sqlitex.Save(db)(&err)

	if err := sqlitex.ExecTransient(db, "DROP TABLE IF EXISTS dim_date", sqlitexNoop); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(db, dimDateSchema, sqlitexNoop); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(db, "CREATE INDEX idx_dim_date_date ON dim_date (date)", sqlitexNoop); err != nil {
		return err
	}

	insert, err := db.Prepare(`INSERT INTO dim_date VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	for i := 0; i < calendarDays; i++ {
		row := calendarRow(calendarEpoch.AddDate(0, 0, i))

		if err := insert.Reset(); err != nil {
			return err
		}
		if err := insert.ClearBindings(); err != nil {
			return err
		}

		insert.BindInt64(1, row.DateID)
		insert.BindText(2, row.Date)
		insert.BindInt64(3, row.Epoch)
		insert.BindText(4, row.DaySuffix)
		insert.BindText(5, row.DayName)
		insert.BindInt64(6, int64(row.DayOfWeek))
		insert.BindInt64(7, int64(row.DayOfMonth))
		insert.BindInt64(8, int64(row.DayOfQuarter))
		insert.BindInt64(9, int64(row.DayOfYear))
		insert.BindInt64(10, int64(row.WeekOfMonth))
		insert.BindInt64(11, int64(row.WeekOfYear))
		insert.BindText(12, row.WeekOfYearISO)
		insert.BindInt64(13, int64(row.MonthActual))
		insert.BindText(14, row.MonthName)
		insert.BindText(15, row.MonthNameAbbreviated)
		insert.BindInt64(16, int64(row.QuarterActual))
		insert.BindText(17, row.QuarterName)
		insert.BindInt64(18, int64(row.YearActual))
		insert.BindText(19, row.FirstDayOfWeek)
		insert.BindText(20, row.LastDayOfWeek)
		insert.BindText(21, row.FirstDayOfMonth)
		insert.BindText(22, row.LastDayOfMonth)
		insert.BindText(23, row.FirstDayOfQuarter)
		insert.BindText(24, row.LastDayOfQuarter)
		insert.BindText(25, row.FirstDayOfYear)
		insert.BindText(26, row.LastDayOfYear)
		insert.BindText(27, row.MMYYYY)
		insert.BindText(28, row.MMDDYYYY)
		insert.BindBool(29, row.WeekendIndr)

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

	slog.Info(fmt.Sprintf("Wrote %d dim_date rows", calendarDays))
	return nil
}

// CalendarRow is one dim_date row.
type CalendarRow struct {
	DateID               int64
	Date                 string
	Epoch                int64
	DaySuffix            string
	DayName              string
	DayOfWeek            int // ISO, Monday=1..Sunday=7
	DayOfMonth           int
	DayOfQuarter         int
	DayOfYear            int
	WeekOfMonth          int
	WeekOfYear           int
	WeekOfYearISO        string
	MonthActual          int
	MonthName            string
	MonthNameAbbreviated string
	QuarterActual        int
	QuarterName          string
	YearActual           int // ISO year
	FirstDayOfWeek       string
	LastDayOfWeek        string
	FirstDayOfMonth      string
	LastDayOfMonth       string
	FirstDayOfQuarter    string
	LastDayOfQuarter     string
	FirstDayOfYear       string
	LastDayOfYear        string
	MMYYYY               string
	MMDDYYYY             string
	WeekendIndr          bool
}

func calendarRow(d time.Time) CalendarRow {
	year, month, day := d.Date()
	isoYear, isoWeek := d.ISOWeek()
	isoDow := isoWeekday(d)

	quarter := (int(month)-1)/3 + 1
	quarterStart := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)

	return CalendarRow{
		DateID:               dateID(d),
		Date:                 d.Format(time.DateOnly),
		Epoch:                d.Unix(),
		DaySuffix:            ordinalSuffix(day),
		DayName:              d.Weekday().String(),
		DayOfWeek:            isoDow,
		DayOfMonth:           day,
		DayOfQuarter:         int(d.Sub(quarterStart).Hours()/24) + 1,
		DayOfYear:            d.YearDay(),
		WeekOfMonth:          (day-1)/7 + 1,
		WeekOfYear:           isoWeek,
		WeekOfYearISO:        fmt.Sprintf("%04d-W%02d-%d", isoYear, isoWeek, isoDow),
		MonthActual:          int(month),
		MonthName:            month.String(),
		MonthNameAbbreviated: month.String()[:3],
		QuarterActual:        quarter,
		QuarterName:          quarterNames[quarter-1],
		YearActual:           isoYear,
		FirstDayOfWeek:       d.AddDate(0, 0, 1-isoDow).Format(time.DateOnly),
		LastDayOfWeek:        d.AddDate(0, 0, 7-isoDow).Format(time.DateOnly),
		FirstDayOfMonth:      monthStart.Format(time.DateOnly),
		LastDayOfMonth:       monthStart.AddDate(0, 1, -1).Format(time.DateOnly),
		FirstDayOfQuarter:    quarterStart.Format(time.DateOnly),
		LastDayOfQuarter:     quarterStart.AddDate(0, 3, -1).Format(time.DateOnly),
		FirstDayOfYear:       firstDayOfISOYear(isoYear).Format(time.DateOnly),
		LastDayOfYear:        firstDayOfISOYear(isoYear + 1).AddDate(0, 0, -1).Format(time.DateOnly),
		MMYYYY:               fmt.Sprintf("%02d%04d", int(month), year),
		MMDDYYYY:             fmt.Sprintf("%02d%02d%04d", int(month), day, year),
		WeekendIndr:          isoDow >= 6,
	}
}

func dateID(d time.Time) int64 {
	year, month, day := d.Date()
	return int64(year)*10000 + int64(month)*100 + int64(day)
}

// firstDayOfISOYear returns the Monday of the year's first ISO week, which
// always contains January 4th.
func firstDayOfISOYear(isoYear int) time.Time {
	jan4 := time.Date(isoYear, time.January, 4, 0, 0, 0, 0, time.UTC)
	return jan4.AddDate(0, 0, 1-isoWeekday(jan4))
}

func isoWeekday(d time.Time) int {
	if wd := int(d.Weekday()); wd == 0 {
		return 7
	} else {
		return wd
	}
}

func ordinalSuffix(day int) string {
	suffix := "th"
	switch day % 10 {
	case 1:
		if day != 11 {
			suffix = "st"
		}
	case 2:
		if day != 12 {
			suffix = "nd"
		}
	case 3:
		if day != 13 {
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", day, suffix)
}
