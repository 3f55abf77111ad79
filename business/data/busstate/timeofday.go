package busstate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// SecondsFromTimeOfDay parses seconds of the schedule day from HH:MM:SS (H:MM:SS is also accepted).
// Times after midnight are expressed with hours of 24 or more, e.g. 25:35:00 for 1:35AM on the next day.
func SecondsFromTimeOfDay(timeOfDay string) (int, error) {
	parts := strings.Split(strings.TrimSpace(timeOfDay), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected three colons in Time format: %s", timeOfDay)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}
	return (hours * 60 * 60) + (minutes * 60) + seconds, nil
}

// FormatTimeOfDay formats seconds since midnight as zero padded HH:MM:SS
func FormatTimeOfDay(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// NormalizeTimeOfDay moves a time past midnight (24:00:00 or later) back one day onto a 0-23h clock.
// Only one day is removed, feeds do not schedule trips 48h past the service day start.
// Values that do not parse are returned unchanged.
func NormalizeTimeOfDay(timeOfDay string) string {
	seconds, err := SecondsFromTimeOfDay(timeOfDay)
	if err != nil || seconds < secondsPerDay {
		return timeOfDay
	}
	return FormatTimeOfDay(seconds - secondsPerDay)
}

// TimeOfDay returns at as HH:MM:SS in its own location, comparable with schedule times
func TimeOfDay(at time.Time) string {
	return at.Format("15:04:05")
}

// Get12AmTime returns midnight at the start of date's day in date's location
func Get12AmTime(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}
