package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/feed/feedtest"
	"github.com/matryer/is"
)

func TestGuardian_Validate(t *testing.T) {
	location, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Fatalf("Unable to load \"America/Toronto\" timezone: %v", err)
	}
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, location)
	withoutFile := func(name string) map[string]string {
		files := feedtest.ValidFiles(2500, "20301231")
		delete(files, name)
		return files
	}

	tests := []struct {
		name      string
		giveFiles map[string]string
		giveMin   int
		wantValid bool
		wantStart string
	}{
		{
			name:      "valid",
			giveFiles: feedtest.ValidFiles(2500, "20301231"),
			wantValid: true,
			wantStart: PassedReason,
		},
		{name: "missing stops", giveFiles: withoutFile("stops.txt"), wantStart: "missing required file: stops.txt"},
		{name: "missing trips", giveFiles: withoutFile("trips.txt"), wantStart: "missing required file: trips.txt"},
		{name: "missing stop_times", giveFiles: withoutFile("stop_times.txt"), wantStart: "missing required file: stop_times.txt"},
		{name: "missing calendar", giveFiles: withoutFile("calendar.txt"), wantStart: "missing required file: calendar.txt"},
		{
			name:      "low stop count",
			giveFiles: feedtest.ValidFiles(1999, "20301231"),
			wantStart: "suspiciously low stop count: 1999",
		},
		{
			name:      "exactly default minimum stop count",
			giveFiles: feedtest.ValidFiles(DefaultMinStops, "20301231"),
			wantValid: true,
			wantStart: PassedReason,
		},
		{
			name: "stray quote in stop name",
			giveFiles: func() map[string]string {
				files := feedtest.ValidFiles(DefaultMinStops-1, "20301231")
				files["stops.txt"] += "9999,19999,King \"Erb,43.46421,-80.52310\n"
				return files
			}(),
			wantValid: true,
			wantStart: PassedReason,
		},
		{
			name:      "exactly minimum stop count",
			giveFiles: feedtest.ValidFiles(10, "20301231"),
			giveMin:   10,
			wantValid: true,
			wantStart: PassedReason,
		},
		{
			name:      "expired yesterday",
			giveFiles: feedtest.ValidFiles(2500, "20260314"),
			wantStart: "schedule expired on 20260314",
		},
		{
			name:      "ends today",
			giveFiles: feedtest.ValidFiles(2500, "20260315"),
			wantValid: true,
			wantStart: PassedReason,
		},
		{
			name:      "bad end date",
			giveFiles: feedtest.ValidFiles(2500, "2026-12-31"),
			wantStart: "unable to parse calendar end_date",
		},
		{
			name: "short calendar row",
			giveFiles: func() map[string]string {
				files := feedtest.ValidFiles(2500, "20301231")
				files["calendar.txt"] = "service_id,start_date,end_date\n1,20240101,20301231\n"
				return files
			}(),
			wantStart: "calendar.txt first row has 3 columns",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			guardian := Guardian{MinStops: tt.giveMin}
			content := feedtest.Archive(t, tt.giveFiles)
			result := guardian.Validate(content, now)
			is.Equal(result.Valid, tt.wantValid)
			is.True(strings.HasPrefix(result.Reason, tt.wantStart)) // reason
			is.Equal(guardian.Validate(content, now), result)       // same input, same result
		})
	}
}

func TestGuardian_ValidateNotZip(t *testing.T) {
	is := is.New(t)
	result := Guardian{}.Validate([]byte("<html>maintenance</html>"), time.Now())
	is.True(!result.Valid)
	is.True(len(result.Reason) > 0)
}
