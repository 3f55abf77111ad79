package indexer

import (
	"io"
	"log"
	"testing"

	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/business/data/feed/feedtest"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "TEST : ", log.LstdFlags)
}

func testArchive(t *testing.T, files map[string]string) *feed.Archive {
	t.Helper()
	archive, err := feed.OpenArchive(feedtest.Archive(t, files))
	if err != nil {
		t.Fatalf("opening test archive: %v", err)
	}
	return archive
}

const testStops = "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
	"1,1001,King / Erb,43.46421,-80.52310\n" +
	"2,,Uptown Station,43.46600,-80.52200\n" +
	",,No Identity,43.0,-80.0\n" +
	"4,1004,Bad Coordinates,north,-80.0\n"

const testTrips = "route_id,service_id,trip_id,trip_headsign\n" +
	"7,wk,t1,Mall\n" +
	"7,wk,t2,Mall\n" +
	"12,wk,t3,Conestoga\n" +
	",wk,t4,No Route\n"

const testStopTimes = "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
	"t1,08:00:00,08:00:00,1,3\n" +
	"t1,07:50:00,07:50:00,9,1\n" +
	"t1,07:55:00,07:55:00,2,2\n" +
	"t2,07:30:00,07:30:00,1,1\n" +
	"t3,7:40:00,7:40:00,1,1\n" +
	"t3,,07:45:00,2,2\n" +
	"t4,09:00:00,09:00:00,1,1\n" +
	"t9,09:00:00,09:00:00,1,x\n"
