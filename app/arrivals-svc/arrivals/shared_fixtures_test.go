package arrivals

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

const testStopID = "1001"

func testLogger() *log.Logger {
	return log.New(io.Discard, "TEST : ", log.LstdFlags)
}

// testNow is a tuesday morning that is not a holiday
func testNow() time.Time {
	return time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
}

func putRecord(t *testing.T, store kvstore.Store, key string, record any) {
	t.Helper()
	item, err := busstate.NewItem(key, record, nil)
	if err != nil {
		t.Fatalf("creating %s: %v", key, err)
	}
	if err = store.Put(context.Background(), item); err != nil {
		t.Fatalf("putting %s: %v", key, err)
	}
}

func putVehicles(t *testing.T, store kvstore.Store, vehicles []busstate.LiveVehicle) {
	t.Helper()
	blob, err := busstate.EncodeVehicles(vehicles)
	if err != nil {
		t.Fatalf("encoding vehicles: %v", err)
	}
	putRecord(t, store, busstate.BusAllKey, busstate.LiveSnapshot{
		UpdatedAt:   testNow().Unix(),
		BusesBinary: blob,
		Count:       len(vehicles),
	})
}

// testStore builds a stop served by three routes:
// route 7 has a vehicle approaching the stop, route 8 has a nearby vehicle tagged with a different headsign,
// route 9's only vehicle has already passed the stop and is far away.
func testStore(t *testing.T) *kvstore.Memory {
	store := kvstore.NewMemory()
	putRecord(t, store, busstate.StopKey(testStopID), busstate.Stop{Lat: 43.45, Lon: -80.49, Name: "Main St"})
	putRecord(t, store, busstate.StopKey("1000"), busstate.Stop{Lat: 43.44, Lon: -80.48, Name: "King St"})
	putRecord(t, store, busstate.StopRoutesKey(testStopID), busstate.StopRoutes{Routes: []busstate.RouteHeadsign{
		{RouteID: "9", Headsign: "Downtown"},
		{RouteID: "7", Headsign: "Mall"},
		{RouteID: "8", Headsign: "Uptown"},
	}})
	putRecord(t, store, busstate.StopScheduleKey(testStopID), busstate.StopSchedule{Schedule: []busstate.ScheduleEntry{
		{RouteID: "9", Headsign: "Downtown", Time: "09:00:00"},
		{RouteID: "7", Headsign: "Mall", Time: "10:05:00"},
		{RouteID: "8", Headsign: "Uptown", Time: "10:20:00"},
		{RouteID: "9", Headsign: "Downtown", Time: "24:30:00"},
	}})

	putRecord(t, store, busstate.TripKey("t7"), busstate.Trip{RouteID: "7", Headsign: "Mall"})
	putRecord(t, store, busstate.TripKey("t8"), busstate.Trip{RouteID: "8", Headsign: "Fairview"})
	putRecord(t, store, busstate.TripKey("t9"), busstate.Trip{RouteID: "9", Headsign: "Downtown"})

	putRecord(t, store, busstate.TripStopTimesKey("t7"), busstate.TripStopTimes{StopTimes: []busstate.StopTimeEntry{
		{StopID: "1000", ArrivalTime: "09:50:00", StopSequence: 1},
		{StopID: testStopID, ArrivalTime: "10:05:00", StopSequence: 2},
		{StopID: "1002", ArrivalTime: "10:10:00", StopSequence: 3},
	}})
	putRecord(t, store, busstate.TripStopTimesKey("t8"), busstate.TripStopTimes{StopTimes: []busstate.StopTimeEntry{
		{StopID: "2000", ArrivalTime: "10:00:00", StopSequence: 1},
		{StopID: "1000", ArrivalTime: "10:02:00", StopSequence: 2},
	}})
	putRecord(t, store, busstate.TripStopTimesKey("t9"), busstate.TripStopTimes{StopTimes: []busstate.StopTimeEntry{
		{StopID: testStopID, ArrivalTime: "09:00:00", StopSequence: 1},
		{StopID: "1003", ArrivalTime: "09:05:00", StopSequence: 2},
	}})

	putVehicles(t, store, []busstate.LiveVehicle{
		{ID: "v7", Lat: 43.40, Lon: -80.40, TripID: "t7", CurrentStopSequence: 1, Timestamp: testNow().Unix()},
		{ID: "v8", Lat: 43.451, Lon: -80.491, TripID: "t8", CurrentStopSequence: 1, Timestamp: testNow().Unix()},
		{ID: "v9", Lat: 43.30, Lon: -80.30, TripID: "t9", CurrentStopSequence: 2, Timestamp: testNow().Unix()},
	})
	return store
}

func testReader(store kvstore.Store, cfg Config) *Reader {
	reader := NewReader(testLogger(), store, cfg)
	reader.now = testNow
	return reader
}
