package arrivals

import (
	"context"
	"fmt"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

// stopTimesLoader batch loads TripStopTimes for a single request, remembering trips already requested
type stopTimesLoader struct {
	store     kvstore.Store
	requested map[string]bool
	stopTimes map[string][]busstate.StopTimeEntry
}

func newStopTimesLoader(store kvstore.Store) *stopTimesLoader {
	return &stopTimesLoader{
		store:     store,
		requested: make(map[string]bool),
		stopTimes: make(map[string][]busstate.StopTimeEntry),
	}
}

// load retrieves stop times for tripIDs not requested before
func (l *stopTimesLoader) load(ctx context.Context, tripIDs []string) error {
	var keys []string
	for _, tripID := range tripIDs {
		if len(tripID) == 0 || l.requested[tripID] {
			continue
		}
		l.requested[tripID] = true
		keys = append(keys, busstate.TripStopTimesKey(tripID))
	}
	items, err := batchGet(ctx, l.store, keys)
	if err != nil {
		return fmt.Errorf("loading trip stop times: %w", err)
	}
	for key, item := range items {
		tripID, _ := busstate.IDFromKey(busstate.TripStopTimesPrefix, key)
		var record busstate.TripStopTimes
		if err = busstate.Decode(item, &record); err != nil {
			return err
		}
		l.stopTimes[tripID] = record.StopTimes
	}
	return nil
}

// get returns the loaded stop times for tripID, nil if the trip has none
func (l *stopTimesLoader) get(tripID string) []busstate.StopTimeEntry {
	return l.stopTimes[tripID]
}
