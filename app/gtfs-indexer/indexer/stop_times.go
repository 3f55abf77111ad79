package indexer

import (
	"context"
	"log"
	"sort"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
)

// IndexStopTimes writes a TripStopTimes record for every trip in stop_times.txt, returns the number of records written.
// Rows are buffered for at most Options.FlushTripCount distinct trips. A trip whose rows continue after its buffer
// was flushed is merged with the record already written, so stop_times.txt does not need to be grouped by trip.
func IndexStopTimes(ctx context.Context,
	log *log.Logger,
	store kvstore.Store,
	archive *feed.Archive,
	opts Options) (int, error) {

	rowReader := newStopTimeRowReader(store, busstate.NewBatchWriter(store, opts.Writer), opts.flushTripCount())
	err := loadArchiveFile(ctx, log, archive, feed.StopTimesFile, rowReader)
	opts.recordWrites(tripStopTimesIndex, rowReader.written)
	opts.recordSkips(tripStopTimesIndex, rowReader.skipped)
	if err != nil {
		return rowReader.written, err
	}
	log.Printf("Indexed stop times for %d trips in %d writes, merged %d split trips, skipped %d rows",
		len(rowReader.flushed), rowReader.written, rowReader.merged, rowReader.skipped)
	return rowReader.written, nil
}

// stopTimeRowReader implements gtfsRowReader, grouping stop times by trip
type stopTimeRowReader struct {
	store          kvstore.Store
	writer         *busstate.BatchWriter
	flushTripCount int
	buffer         map[string][]busstate.StopTimeEntry
	// bufferOrder holds trip ids in the order first seen
	bufferOrder []string
	// flushed holds every trip id written so far
	flushed map[string]bool
	written int
	merged  int
	skipped int
}

func newStopTimeRowReader(store kvstore.Store, writer *busstate.BatchWriter, flushTripCount int) *stopTimeRowReader {
	return &stopTimeRowReader{
		store:          store,
		writer:         writer,
		flushTripCount: flushTripCount,
		buffer:         make(map[string][]busstate.StopTimeEntry),
		flushed:        make(map[string]bool),
	}
}

func (s *stopTimeRowReader) addRow(ctx context.Context, parser *gtfsFileParser) error {
	tripID := parser.getString("trip_id", false)
	entry := busstate.StopTimeEntry{
		StopID:       parser.getString("stop_id", false),
		ArrivalTime:  parser.getTimeOfDay("arrival_time", false),
		StopSequence: parser.getInt("stop_sequence", false),
	}
	if parser.getError() != nil {
		s.skipped++
		return nil
	}
	if _, present := s.buffer[tripID]; !present {
		s.bufferOrder = append(s.bufferOrder, tripID)
	}
	s.buffer[tripID] = append(s.buffer[tripID], entry)

	//check if its time to save the batch
	if len(s.buffer) >= s.flushTripCount {
		return s.flush(ctx)
	}
	return nil
}

func (s *stopTimeRowReader) flush(ctx context.Context) error {
	//check if there's something to do
	if len(s.buffer) == 0 {
		return nil
	}
	for _, tripID := range s.bufferOrder {
		entries := s.buffer[tripID]
		if s.flushed[tripID] {
			stored, err := busstate.GetTripStopTimes(ctx, s.store, tripID)
			if err != nil {
				return err
			}
			if stored != nil {
				entries = mergeStopTimes(stored.StopTimes, entries)
			}
			s.merged++
		}
		sortStopTimes(entries)
		err := s.writer.Put(ctx, busstate.TripStopTimesKey(tripID), busstate.TripStopTimes{StopTimes: entries})
		if err != nil {
			return err
		}
		s.flushed[tripID] = true
		s.written++
	}
	// truncate the batch
	s.buffer = make(map[string][]busstate.StopTimeEntry)
	s.bufferOrder = s.bufferOrder[:0]
	// everything must be in the store before a later flush can merge with it
	return s.writer.Flush(ctx)
}

// mergeStopTimes combines stored and later entries of a trip. A later entry replaces a stored one with the same sequence
func mergeStopTimes(stored []busstate.StopTimeEntry, later []busstate.StopTimeEntry) []busstate.StopTimeEntry {
	replaced := make(map[int]bool, len(later))
	for _, entry := range later {
		replaced[entry.StopSequence] = true
	}
	results := make([]busstate.StopTimeEntry, 0, len(stored)+len(later))
	for _, entry := range stored {
		if !replaced[entry.StopSequence] {
			results = append(results, entry)
		}
	}
	return append(results, later...)
}

// sortStopTimes orders entries by stop sequence
func sortStopTimes(entries []busstate.StopTimeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StopSequence < entries[j].StopSequence
	})
}
