// Package indexer builds the stop, trip, route and schedule indices from a static gtfs archive
package indexer

import (
	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
)

// DefaultFlushTripCount is the number of distinct trips held in memory before stop times are written
const DefaultFlushTripCount = 100

// index names used in logs and metrics
const (
	stopIndex          = "stop"
	tripIndex          = "trip"
	stopRoutesIndex    = "stop_routes"
	tripStopTimesIndex = "trip_stop_times"
	stopScheduleIndex  = "stop_schedule"
)

// Options for indexing jobs
type Options struct {
	Writer busstate.BatchWriterConfig
	// FlushTripCount bounds the trips buffered by IndexStopTimes, DefaultFlushTripCount if zero
	FlushTripCount int
	// Metrics is optional
	Metrics *metrics.Collector
}

func (o Options) flushTripCount() int {
	if o.FlushTripCount <= 0 {
		return DefaultFlushTripCount
	}
	return o.FlushTripCount
}

func (o Options) recordWrites(index string, count int) {
	if o.Metrics != nil && count > 0 {
		o.Metrics.IndexWrites.WithLabelValues(index).Add(float64(count))
	}
}

func (o Options) recordSkips(index string, count int) {
	if o.Metrics != nil && count > 0 {
		o.Metrics.IndexSkips.WithLabelValues(index).Add(float64(count))
	}
}
