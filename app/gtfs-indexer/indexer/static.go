package indexer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/business/data/feed"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/jszwec/csvutil"
)

// StaticCounts reports the records written by IndexStatic
type StaticCounts struct {
	Stops      int
	Trips      int
	StopRoutes int
	Skipped    int
}

// stopRow is a row in stops.txt
type stopRow struct {
	StopID   string `csv:"stop_id"`
	StopCode string `csv:"stop_code"`
	StopName string `csv:"stop_name"`
	StopLat  string `csv:"stop_lat"`
	StopLon  string `csv:"stop_lon"`
}

// tripRow is a row in trips.txt
type tripRow struct {
	TripID       string `csv:"trip_id"`
	RouteID      string `csv:"route_id"`
	TripHeadsign string `csv:"trip_headsign"`
}

// IndexStatic writes a Stop for every stop, a Trip for every trip and StopRoutes for every stop served by a trip
func IndexStatic(ctx context.Context,
	log *log.Logger,
	store kvstore.Store,
	archive *feed.Archive,
	opts Options) (StaticCounts, error) {

	var counts StaticCounts
	writer := busstate.NewBatchWriter(store, opts.Writer)

	stops, skipped, err := indexStops(ctx, log, archive, writer)
	counts.Stops, counts.Skipped = stops, counts.Skipped+skipped
	if err != nil {
		return counts, err
	}
	opts.recordWrites(stopIndex, stops)
	opts.recordSkips(stopIndex, skipped)
	log.Printf("Indexed %d stops, skipped %d rows", stops, skipped)

	trips, skipped, err := indexTrips(ctx, archive, writer)
	counts.Trips, counts.Skipped = len(trips), counts.Skipped+skipped
	if err != nil {
		return counts, err
	}
	opts.recordWrites(tripIndex, len(trips))
	opts.recordSkips(tripIndex, skipped)
	log.Printf("Indexed %d trips, skipped %d rows", len(trips), skipped)

	stopRoutesRR := newStopRoutesRowReader(trips, writer)
	if err = loadArchiveFile(ctx, log, archive, feed.StopTimesFile, stopRoutesRR); err != nil {
		return counts, err
	}
	counts.StopRoutes = stopRoutesRR.written
	counts.Skipped += stopRoutesRR.skipped
	opts.recordWrites(stopRoutesIndex, stopRoutesRR.written)
	opts.recordSkips(stopRoutesIndex, stopRoutesRR.skipped)
	log.Printf("Indexed routes for %d stops, skipped %d rows", stopRoutesRR.written, stopRoutesRR.skipped)
	return counts, nil
}

// newCSVDecoder creates a csvutil.Decoder for file name using the header row found in the file
func newCSVDecoder(r io.Reader, name string) (*csvutil.Decoder, error) {
	csvReader, headers, err := makeCSVReader(r, name)
	if err != nil {
		return nil, err
	}
	decoder, err := csvutil.NewDecoder(csvReader, headers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for %s: %w", name, err)
	}
	return decoder, nil
}

// decodeRows decodes every row of file name into a new T and hands it to fn.
// Rows that fail to decode are counted and skipped.
func decodeRows[T any](ctx context.Context, archive *feed.Archive, name string, fn func(row *T) error) (skipped int, err error) {
	rc, err := archive.Open(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = rc.Close()
	}()
	decoder, err := newCSVDecoder(rc, name)
	if err != nil {
		return 0, err
	}
	for {
		var row T
		err = decoder.Decode(&row)
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			if isRowError(err) {
				skipped++
				continue
			}
			return skipped, fmt.Errorf("reading %s: %w", name, err)
		}
		if err = ctx.Err(); err != nil {
			return skipped, err
		}
		if err = fn(&row); err != nil {
			return skipped, err
		}
	}
}

// isRowError is true for errors confined to a single row
func isRowError(err error) bool {
	var parseErr *csv.ParseError
	var decodeErr *csvutil.DecodeError
	return errors.As(err, &parseErr) || errors.As(err, &decodeErr) || errors.Is(err, csvutil.ErrFieldCount)
}

// indexStops writes a Stop keyed by stop_code, or stop_id when the stop has no code.
// Coordinates that are absent or do not parse are stored as zero.
func indexStops(ctx context.Context, log *log.Logger, archive *feed.Archive, writer *busstate.BatchWriter) (written int, skipped int, err error) {
	unusable := 0
	skipped, err = decodeRows(ctx, archive, feed.StopsFile, func(row *stopRow) error {
		code := strings.TrimSpace(row.StopCode)
		if len(code) == 0 {
			code = strings.TrimSpace(row.StopID)
		}
		if len(code) == 0 {
			unusable++
			return nil
		}
		lat, latErr := parseCoordinate(row.StopLat)
		lon, lonErr := parseCoordinate(row.StopLon)
		if latErr != nil || lonErr != nil {
			log.Printf("stop %s has unusable coordinates %q,%q, storing zero", code, row.StopLat, row.StopLon)
		}
		written++
		return writer.Put(ctx, busstate.StopKey(code), busstate.Stop{Lat: lat, Lon: lon, Name: row.StopName})
	})
	skipped += unusable
	if err != nil {
		return written, skipped, err
	}
	return written, skipped, writer.Flush(ctx)
}

// parseCoordinate returns zero for an empty value and for one that does not parse
func parseCoordinate(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return 0, nil
	}
	coordinate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return coordinate, nil
}

// indexTrips writes a Trip for each row with trip_id and route_id and returns them keyed by trip id
func indexTrips(ctx context.Context, archive *feed.Archive, writer *busstate.BatchWriter) (map[string]busstate.Trip, int, error) {
	trips := make(map[string]busstate.Trip)
	unusable := 0
	skipped, err := decodeRows(ctx, archive, feed.TripsFile, func(row *tripRow) error {
		tripID := strings.TrimSpace(row.TripID)
		routeID := strings.TrimSpace(row.RouteID)
		if len(tripID) == 0 || len(routeID) == 0 {
			unusable++
			return nil
		}
		trip := busstate.Trip{RouteID: routeID, Headsign: row.TripHeadsign}
		trips[tripID] = trip
		return writer.Put(ctx, busstate.TripKey(tripID), trip)
	})
	skipped += unusable
	if err != nil {
		return trips, skipped, err
	}
	return trips, skipped, writer.Flush(ctx)
}

// stopRoutesRowReader implements gtfsRowReader, collecting the route and headsign pairs serving each stop.
// Pairs are written on flush.
type stopRoutesRowReader struct {
	trips      map[string]busstate.Trip
	writer     *busstate.BatchWriter
	stopRoutes map[string]map[busstate.RouteHeadsign]bool
	written    int
	skipped    int
}

func newStopRoutesRowReader(trips map[string]busstate.Trip, writer *busstate.BatchWriter) *stopRoutesRowReader {
	return &stopRoutesRowReader{
		trips:      trips,
		writer:     writer,
		stopRoutes: make(map[string]map[busstate.RouteHeadsign]bool),
	}
}

func (s *stopRoutesRowReader) addRow(_ context.Context, parser *gtfsFileParser) error {
	tripID := parser.getString("trip_id", false)
	stopID := parser.getString("stop_id", false)
	if parser.getError() != nil {
		s.skipped++
		return nil
	}
	trip, present := s.trips[tripID]
	if !present {
		s.skipped++
		return nil
	}
	routes, present := s.stopRoutes[stopID]
	if !present {
		routes = make(map[busstate.RouteHeadsign]bool)
		s.stopRoutes[stopID] = routes
	}
	routes[busstate.RouteHeadsign{RouteID: trip.RouteID, Headsign: trip.Headsign}] = true
	return nil
}

func (s *stopRoutesRowReader) flush(ctx context.Context) error {
	stopIDs := make([]string, 0, len(s.stopRoutes))
	for stopID := range s.stopRoutes {
		stopIDs = append(stopIDs, stopID)
	}
	sort.Strings(stopIDs)
	for _, stopID := range stopIDs {
		err := s.writer.Put(ctx, busstate.StopRoutesKey(stopID), busstate.StopRoutes{
			Routes: sortedRoutes(s.stopRoutes[stopID]),
		})
		if err != nil {
			return err
		}
		s.written++
	}
	s.stopRoutes = make(map[string]map[busstate.RouteHeadsign]bool)
	return s.writer.Flush(ctx)
}

func sortedRoutes(routes map[busstate.RouteHeadsign]bool) []busstate.RouteHeadsign {
	results := make([]busstate.RouteHeadsign, 0, len(routes))
	for route := range routes {
		results = append(results, route)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Less(results[j])
	})
	return results
}
