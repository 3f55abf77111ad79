package arrivals

import (
	"context"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/bluele/gcache"
)

// tripCache keeps recently resolved trip identities in front of the store.
// Trips are rewritten only when the static feed is indexed so a short expiry is enough to pick up changes.
type tripCache struct {
	cache gcache.Cache
}

func makeTripCache(size int, expiration time.Duration) *tripCache {
	return &tripCache{
		cache: gcache.New(size).LRU().Expiration(expiration).Build(),
	}
}

// resolve returns trips by trip id for every tripID found in the cache or the store.
// Trips missing from the store are absent from the result.
func (c *tripCache) resolve(ctx context.Context, store kvstore.Store, tripIDs []string) (map[string]busstate.Trip, error) {
	results := make(map[string]busstate.Trip, len(tripIDs))
	var keysNeeded []string
	for _, tripID := range tripIDs {
		if value, err := c.cache.GetIFPresent(tripID); err == nil {
			results[tripID] = value.(busstate.Trip)
			continue
		}
		keysNeeded = append(keysNeeded, busstate.TripKey(tripID))
	}
	items, err := batchGet(ctx, store, keysNeeded)
	if err != nil {
		return nil, err
	}
	for key, item := range items {
		tripID, _ := busstate.IDFromKey(busstate.TripPrefix, key)
		var trip busstate.Trip
		if err = busstate.Decode(item, &trip); err != nil {
			return nil, err
		}
		results[tripID] = trip
		_ = c.cache.Set(tripID, trip)
	}
	return results, nil
}

// batchGet retrieves keys in chunks of kvstore.MaxBatchKeys
func batchGet(ctx context.Context, store kvstore.Store, keys []string) (map[string]kvstore.Item, error) {
	results := make(map[string]kvstore.Item, len(keys))
	for start := 0; start < len(keys); start += kvstore.MaxBatchKeys {
		end := start + kvstore.MaxBatchKeys
		if end > len(keys) {
			end = len(keys)
		}
		items, err := store.BatchGet(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		for key, item := range items {
			results[key] = item
		}
	}
	return results, nil
}
