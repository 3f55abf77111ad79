// Package feedtest builds in memory gtfs archives for tests.
package feedtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"
)

// Archive zips files (name to content) and returns the archive bytes
func Archive(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s in test archive: %v", name, err)
		}
		if _, err = w.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing %s in test archive: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing test archive: %v", err)
	}
	return buf.Bytes()
}

// Stops generates a stops.txt with count rows
func Stops(count int) string {
	var sb strings.Builder
	sb.WriteString("stop_id,stop_code,stop_name,stop_lat,stop_lon\n")
	for i := 0; i < count; i++ {
		_, _ = fmt.Fprintf(&sb, "%d,%d,Stop %d,43.4%04d,-80.5%04d\n", i, 1000+i, i, i%10000, i%10000)
	}
	return sb.String()
}

// Calendar generates a calendar.txt with a single service ending on endDate (YYYYMMDD)
func Calendar(endDate string) string {
	return "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
		"1,1,1,1,1,1,1,1,20240101," + endDate + "\n"
}

// ValidFiles returns the four required files with stopCount stops and a calendar ending on endDate
func ValidFiles(stopCount int, endDate string) map[string]string {
	return map[string]string{
		"stops.txt":      Stops(stopCount),
		"trips.txt":      "route_id,service_id,trip_id,trip_headsign\n7,1,t1,Mall\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nt1,12:00:00,12:00:00,1,1\n",
		"calendar.txt":   Calendar(endDate),
	}
}
