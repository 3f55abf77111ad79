package arrivals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

// DefaultMaxLiveAge is the oldest a BUS_ALL snapshot may be while ingest runs every minute
const DefaultMaxLiveAge = 120 * time.Second

var errStopScan = errors.New("stop scan")

// HealthCheck is the result of a single check
type HealthCheck struct {
	Category string
	Name     string
	Passed   bool
	Detail   string
}

// CheckHealth verifies live data is fresh and the static indices and history are populated
func CheckHealth(ctx context.Context, store kvstore.Store, testStopID string, now time.Time, maxLiveAge time.Duration) []HealthCheck {
	var results []HealthCheck

	heartbeat := HealthCheck{Category: "Ingest", Name: "Heartbeat (Live Data)"}
	snapshot, err := busstate.GetLiveSnapshot(ctx, store)
	switch {
	case err != nil:
		heartbeat.Detail = err.Error()
	case snapshot == nil:
		heartbeat.Detail = "no live snapshot"
	default:
		age := now.Unix() - snapshot.UpdatedAt
		heartbeat.Passed = time.Duration(age)*time.Second < maxLiveAge
		heartbeat.Detail = fmt.Sprintf("Data Age: %ds", age)
	}
	results = append(results, heartbeat)

	static := HealthCheck{Category: "Database", Name: "Static Data Presence"}
	stop, err := busstate.GetStop(ctx, store, testStopID)
	if err != nil {
		static.Detail = err.Error()
	} else {
		hasSchedules, err := hasPrefix(ctx, store, busstate.TripStopTimesPrefix)
		if err != nil {
			static.Detail = err.Error()
		} else {
			static.Passed = stop != nil && hasSchedules
			static.Detail = fmt.Sprintf("Stops: %t, Schedules: %t", stop != nil, hasSchedules)
		}
	}
	results = append(results, static)

	history := HealthCheck{Category: "History", Name: "Unique Record Creation"}
	hasHistory, err := hasPrefix(ctx, store, busstate.BusHistoryPrefix)
	switch {
	case err != nil:
		history.Detail = err.Error()
	case hasHistory:
		history.Passed = true
		history.Detail = "Found recent history blob"
	default:
		history.Detail = "No history records found"
	}
	results = append(results, history)

	return results
}

// hasPrefix reports whether any live item has a key starting with prefix
func hasPrefix(ctx context.Context, store kvstore.Store, prefix string) (bool, error) {
	found := false
	err := store.ScanPrefix(ctx, prefix, func(kvstore.Item) error {
		found = true
		return errStopScan
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return false, err
	}
	return found, nil
}
