package indexer

import (
	"context"
	"testing"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/matryer/is"
)

func sequences(stopTimes *busstate.TripStopTimes) []int {
	var results []int
	for _, entry := range stopTimes.StopTimes {
		results = append(results, entry.StopSequence)
	}
	return results
}

func TestIndexStopTimes(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := kvstore.NewMemory()
	archive := testArchive(t, map[string]string{"stop_times.txt": testStopTimes})

	written, err := IndexStopTimes(ctx, testLogger(), store, archive, Options{})
	is.NoErr(err)
	is.Equal(written, 4) // t1, t2, t3, t4

	stopTimes, err := busstate.GetTripStopTimes(ctx, store, "t1")
	is.NoErr(err)
	is.Equal(sequences(stopTimes), []int{1, 2, 3}) // rows arrived as 3,1,2

	stopTimes, err = busstate.GetTripStopTimes(ctx, store, "t3")
	is.NoErr(err)
	is.Equal(len(stopTimes.StopTimes), 1)                    // row without arrival_time skipped
	is.Equal(stopTimes.StopTimes[0].ArrivalTime, "07:40:00") // zero padded

	stopTimes, err = busstate.GetTripStopTimes(ctx, store, "t9")
	is.NoErr(err)
	is.True(stopTimes == nil) // non integer sequence
}

func TestIndexStopTimes_SplitTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := kvstore.NewMemory()
	// t1 is interrupted by t2 after the buffer of a single trip has been flushed
	archive := testArchive(t, map[string]string{"stop_times.txt": "trip_id,arrival_time,stop_id,stop_sequence\n" +
		"t1,08:10:00,c,3\n" +
		"t1,08:00:00,a,1\n" +
		"t2,09:00:00,a,1\n" +
		"t1,08:05:00,b,2\n" +
		"t1,08:15:00,d,4\n"})

	written, err := IndexStopTimes(ctx, testLogger(), store, archive, Options{FlushTripCount: 1})
	is.NoErr(err)
	is.Equal(written, 5) // every row fills the buffer

	stopTimes, err := busstate.GetTripStopTimes(ctx, store, "t1")
	is.NoErr(err)
	is.Equal(sequences(stopTimes), []int{1, 2, 3, 4})
	is.Equal(stopTimes.StopTimes[1].StopID, "b")
}

func Test_mergeStopTimes(t *testing.T) {
	is := is.New(t)
	stored := []busstate.StopTimeEntry{{StopID: "a", StopSequence: 1}, {StopID: "b", StopSequence: 2}}
	later := []busstate.StopTimeEntry{{StopID: "B", StopSequence: 2}, {StopID: "c", StopSequence: 3}}
	merged := mergeStopTimes(stored, later)
	sortStopTimes(merged)
	is.Equal(merged, []busstate.StopTimeEntry{{StopID: "a", StopSequence: 1}, {StopID: "B", StopSequence: 2},
		{StopID: "c", StopSequence: 3}})
}
