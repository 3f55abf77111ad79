package indexer

import (
	"context"
	"log"
	"sort"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

// RebuildSchedules replaces the StopSchedule of every stop found in the TripStopTimes index.
// Each trip's route and headsign are looked up individually, trips that don't resolve are skipped.
// Returns the number of stop schedules written.
func RebuildSchedules(ctx context.Context, log *log.Logger, store kvstore.Store, opts Options) (int, error) {
	schedules := make(map[string][]busstate.ScheduleEntry)
	trips, skipped := 0, 0

	err := store.ScanPrefix(ctx, busstate.TripStopTimesPrefix, func(item kvstore.Item) error {
		tripID, _ := busstate.IDFromKey(busstate.TripStopTimesPrefix, item.Key)
		trip, err := busstate.GetTrip(ctx, store, tripID)
		if err != nil {
			return err
		}
		if trip == nil || len(trip.RouteID) == 0 || len(trip.Headsign) == 0 {
			skipped++
			return nil
		}
		var stopTimes busstate.TripStopTimes
		if err = busstate.Decode(item, &stopTimes); err != nil {
			log.Printf("skipping trip %s: %v", tripID, err)
			skipped++
			return nil
		}
		for _, stopTime := range stopTimes.StopTimes {
			if len(stopTime.StopID) == 0 || len(stopTime.ArrivalTime) == 0 {
				continue
			}
			schedules[stopTime.StopID] = append(schedules[stopTime.StopID], busstate.ScheduleEntry{
				RouteID:  trip.RouteID,
				Headsign: trip.Headsign,
				Time:     stopTime.ArrivalTime,
			})
		}
		trips++
		return nil
	})
	opts.recordSkips(stopScheduleIndex, skipped)
	if err != nil {
		return 0, err
	}
	log.Printf("Aggregated %d trips into schedules for %d stops, skipped %d trips", trips, len(schedules), skipped)

	stopIDs := make([]string, 0, len(schedules))
	for stopID := range schedules {
		stopIDs = append(stopIDs, stopID)
	}
	sort.Strings(stopIDs)

	writer := busstate.NewBatchWriter(store, opts.Writer)
	for _, stopID := range stopIDs {
		schedule := schedules[stopID]
		sortSchedule(schedule)
		if err = writer.Put(ctx, busstate.StopScheduleKey(stopID), busstate.StopSchedule{Schedule: schedule}); err != nil {
			return writer.Written(), err
		}
	}
	if err = writer.Flush(ctx); err != nil {
		return writer.Written(), err
	}
	opts.recordWrites(stopScheduleIndex, writer.Written())
	log.Printf("Wrote %d sorted stop schedules", writer.Written())
	return writer.Written(), nil
}

// sortSchedule orders entries by time of day. Times are zero padded HH:MM:SS so string order is time order
func sortSchedule(schedule []busstate.ScheduleEntry) {
	sort.SliceStable(schedule, func(i, j int) bool {
		return schedule[i].Time < schedule[j].Time
	})
}
