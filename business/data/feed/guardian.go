package feed

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultMinStops is the smallest stop count expected from the agency's feed
const DefaultMinStops = 2000

// calendarEndDateColumn is the position of end_date in calendar.txt rows
const calendarEndDateColumn = 9

// PassedReason is the Result.Reason of an archive that passed every check
const PassedReason = "validation passed"

// Result of Guardian.Validate
type Result struct {
	Valid  bool
	Reason string
}

// Guardian checks a freshly downloaded archive before it is allowed to replace the indices
type Guardian struct {
	// MinStops is the fewest data rows stops.txt may have, DefaultMinStops if zero
	MinStops int
}

// Validate runs structural, volume and freshness checks on content in that order, stopping at the first failure.
// Any read or parse failure is reported as an invalid Result carrying the error text.
func (g Guardian) Validate(content []byte, now time.Time) Result {
	archive, err := OpenArchive(content)
	if err != nil {
		return Result{Reason: err.Error()}
	}

	for _, name := range RequiredFiles {
		if !archive.Has(name) {
			return Result{Reason: fmt.Sprintf("missing required file: %s", name)}
		}
	}

	minStops := g.MinStops
	if minStops <= 0 {
		minStops = DefaultMinStops
	}
	stopCount, err := countDataRows(archive, StopsFile)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	// a count equal to the minimum passes
	if stopCount < minStops {
		return Result{Reason: fmt.Sprintf("suspiciously low stop count: %d", stopCount)}
	}

	endDate, present, err := firstCalendarEndDate(archive)
	if err != nil {
		return Result{Reason: err.Error()}
	}
	if present {
		expiresAt, err := time.ParseInLocation("20060102", endDate, now.Location())
		if err != nil {
			return Result{Reason: fmt.Sprintf("unable to parse calendar end_date %q: %v", endDate, err)}
		}
		// service runs through the whole end date
		if !now.Before(expiresAt.AddDate(0, 0, 1)) {
			return Result{Reason: fmt.Sprintf("schedule expired on %s", endDate)}
		}
	}

	return Result{Valid: true, Reason: PassedReason}
}

// countDataRows counts rows after the header in file name
func countDataRows(archive *Archive, name string) (int, error) {
	rc, err := archive.Open(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = rc.Close()
	}()
	reader := NewCSVReader(rc)
	reader.ReuseRecord = true
	count := -1
	for {
		_, err = reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", name, err)
		}
		count++
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// firstCalendarEndDate returns the end_date column of the first calendar row. present is false when the
// calendar has no data rows.
func firstCalendarEndDate(archive *Archive) (endDate string, present bool, err error) {
	rc, err := archive.Open(CalendarFile)
	if err != nil {
		return "", false, err
	}
	defer func() {
		_ = rc.Close()
	}()
	reader := NewCSVReader(rc)
	for row := 0; row < 2; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("reading %s: %w", CalendarFile, err)
		}
		if row == 0 {
			continue
		}
		if len(record) <= calendarEndDateColumn {
			return "", false, fmt.Errorf("%s first row has %d columns, expected end_date in column %d",
				CalendarFile, len(record), calendarEndDateColumn+1)
		}
		return record[calendarEndDateColumn], true, nil
	}
	return "", false, nil
}
