// Package ingest polls the realtime vehicle position feed and stores compacted snapshots
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/httpclient"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
)

// DefaultHistoryRetention is how long BUS_HISTORY records are kept
const DefaultHistoryRetention = 365 * 24 * time.Hour

// Ingestor fetches vehicle positions from URL and saves them to Store
type Ingestor struct {
	Log    *log.Logger
	Store  kvstore.Store
	Client *http.Client
	URL    string
	// HistoryRetention is DefaultHistoryRetention if zero
	HistoryRetention time.Duration
	// Metrics is optional
	Metrics *metrics.Collector
	now     func() time.Time
}

func (i *Ingestor) currentTime() time.Time {
	if i.now != nil {
		return i.now()
	}
	return time.Now()
}

func (i *Ingestor) recordCycle(outcome string) {
	if i.Metrics != nil {
		i.Metrics.IngestCycles.WithLabelValues(outcome).Inc()
	}
}

// FetchAndSave performs one fetch, decode and store cycle and returns the number of vehicles saved.
// Failures are logged and reported as zero vehicles, leaving the previous snapshot in place.
func (i *Ingestor) FetchAndSave(ctx context.Context) int {
	start := time.Now()
	count, err := i.fetchAndSave(ctx)
	if i.Metrics != nil {
		i.Metrics.ObserveIngest(time.Since(start))
	}
	if err != nil {
		i.Log.Printf("error ingesting vehicle positions: %v\n", err)
		i.recordCycle("failed")
		return 0
	}
	if count == 0 {
		i.recordCycle("empty")
		return 0
	}
	i.recordCycle("saved")
	if i.Metrics != nil {
		i.Metrics.IngestVehicles.Set(float64(count))
	}
	return count
}

func (i *Ingestor) fetchAndSave(ctx context.Context) (int, error) {
	file, err := httpclient.DownloadBytes(ctx, i.Client, i.URL)
	if err != nil {
		return 0, err
	}
	capturedAt := i.currentTime().Unix()
	vehicles, err := decodeVehicles(file.Content, capturedAt)
	if err != nil {
		return 0, err
	}
	if len(vehicles) == 0 {
		i.Log.Printf("feed contained no vehicle positions\n")
		return 0, nil
	}
	if err = i.save(ctx, vehicles, capturedAt); err != nil {
		return 0, err
	}
	i.Log.Printf("Updated live data and saved history for %d vehicles\n", len(vehicles))
	return len(vehicles), nil
}

// save writes the current snapshot and its history record together
func (i *Ingestor) save(ctx context.Context, vehicles []busstate.LiveVehicle, capturedAt int64) error {
	blob, err := busstate.EncodeVehicles(vehicles)
	if err != nil {
		return err
	}
	retention := i.HistoryRetention
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	expiresAt := time.Unix(capturedAt, 0).Add(retention)

	snapshot, err := busstate.NewItem(busstate.BusAllKey, busstate.LiveSnapshot{
		UpdatedAt:   capturedAt,
		BusesBinary: blob,
		Count:       len(vehicles),
	}, nil)
	if err != nil {
		return err
	}
	history, err := busstate.NewItem(busstate.BusHistoryKey(capturedAt), busstate.LiveHistory{
		BusesBinary: blob,
		Count:       len(vehicles),
		TTL:         expiresAt.Unix(),
	}, &expiresAt)
	if err != nil {
		return err
	}
	if err = i.Store.BatchWrite(ctx, []kvstore.Item{snapshot, history}); err != nil {
		return fmt.Errorf("saving vehicle snapshot: %w", err)
	}
	return nil
}

// RunLoop runs FetchAndSave every loopDuration until shutdownSignal receives. The time spent working is subtracted
// from the following sleep.
func (i *Ingestor) RunLoop(ctx context.Context, loopDuration time.Duration, shutdownSignal chan os.Signal) error {
	if loopDuration <= 0 {
		return errors.New("loop duration must be positive")
	}
	sleep := time.Duration(0) //sleep for zero seconds the first time
	timer := time.NewTimer(sleep)
	defer timer.Stop()

	for {
		select {
		case <-shutdownSignal:
			i.Log.Printf("Exiting on shutdown signal")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		// mark the time we start working
		start := time.Now()

		cycleCtx, cancel := context.WithTimeout(ctx, loopDuration)
		i.FetchAndSave(cycleCtx)
		cancel()

		// attempt to run the loop every loopDuration by subtracting the time it took to perform the work
		workTook := time.Since(start)
		i.Log.Printf("work took %s\n", workTook.Round(time.Millisecond))

		// if the work took longer than loopDuration don't sleep at all on the next loop
		if workTook >= loopDuration {
			sleep = 0
		} else {
			sleep = loopDuration - workTook
		}
		timer.Reset(sleep)
	}
}

// Reap removes history records past their retention, returns the number removed
func (i *Ingestor) Reap(ctx context.Context) (int64, error) {
	removed, err := i.Store.DeleteExpired(ctx, i.currentTime())
	if err != nil {
		return 0, err
	}
	i.Log.Printf("Removed %d expired records\n", removed)
	return removed, nil
}
