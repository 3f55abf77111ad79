package busstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

// NewItem marshals record into a kvstore.Item under key. expiresAt may be nil
func NewItem(key string, record any, expiresAt *time.Time) (kvstore.Item, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return kvstore.Item{}, fmt.Errorf("marshaling %s: %w", key, err)
	}
	return kvstore.Item{Key: key, Value: value, ExpiresAt: expiresAt}, nil
}

// Decode unmarshals item into record
func Decode(item kvstore.Item, record any) error {
	if err := json.Unmarshal(item.Value, record); err != nil {
		return fmt.Errorf("decoding %s: %w", item.Key, err)
	}
	return nil
}

// getRecord loads key into record. found is false when the key does not exist
func getRecord(ctx context.Context, store kvstore.Store, key string, record any) (found bool, err error) {
	item, err := store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting %s: %w", key, err)
	}
	return true, Decode(*item, record)
}

func putRecord(ctx context.Context, store kvstore.Store, key string, record any) error {
	item, err := NewItem(key, record, nil)
	if err != nil {
		return err
	}
	if err = store.Put(ctx, item); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

// GetStop retrieves Stop, returns nil if not present
func GetStop(ctx context.Context, store kvstore.Store, stopID string) (*Stop, error) {
	var stop Stop
	found, err := getRecord(ctx, store, StopKey(stopID), &stop)
	if !found || err != nil {
		return nil, err
	}
	return &stop, nil
}

// GetTrip retrieves Trip, returns nil if not present
func GetTrip(ctx context.Context, store kvstore.Store, tripID string) (*Trip, error) {
	var trip Trip
	found, err := getRecord(ctx, store, TripKey(tripID), &trip)
	if !found || err != nil {
		return nil, err
	}
	return &trip, nil
}

// GetTripStopTimes retrieves TripStopTimes, returns nil if not present
func GetTripStopTimes(ctx context.Context, store kvstore.Store, tripID string) (*TripStopTimes, error) {
	var stopTimes TripStopTimes
	found, err := getRecord(ctx, store, TripStopTimesKey(tripID), &stopTimes)
	if !found || err != nil {
		return nil, err
	}
	return &stopTimes, nil
}

// GetStopSchedule retrieves StopSchedule, returns nil if not present
func GetStopSchedule(ctx context.Context, store kvstore.Store, stopID string) (*StopSchedule, error) {
	var schedule StopSchedule
	found, err := getRecord(ctx, store, StopScheduleKey(stopID), &schedule)
	if !found || err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetLiveSnapshot retrieves the current LiveSnapshot, returns nil if not present
func GetLiveSnapshot(ctx context.Context, store kvstore.Store) (*LiveSnapshot, error) {
	var snapshot LiveSnapshot
	found, err := getRecord(ctx, store, BusAllKey, &snapshot)
	if !found || err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetFeedFingerprint retrieves the FeedFingerprint, returns nil if no feed was indexed yet
func GetFeedFingerprint(ctx context.Context, store kvstore.Store) (*FeedFingerprint, error) {
	var fingerprint FeedFingerprint
	found, err := getRecord(ctx, store, ConfigStaticKey, &fingerprint)
	if !found || err != nil {
		return nil, err
	}
	return &fingerprint, nil
}

// PutFeedFingerprint replaces the FeedFingerprint
func PutFeedFingerprint(ctx context.Context, store kvstore.Store, fingerprint FeedFingerprint) error {
	return putRecord(ctx, store, ConfigStaticKey, fingerprint)
}
