// Package arrivals reconciles live vehicle positions with the static schedule to predict arrivals at a stop
package arrivals

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"github.com/OpenTransitTools/busstate/foundation/kvstore"
	"github.com/OpenTransitTools/busstate/foundation/metrics"
)

// ErrStopNotFound is returned by Reader.Arrivals when the stop has no STOP record
var ErrStopNotFound = errors.New("stop not found")

// UnknownArrival is reported when a matched trip has no usable arrival time at the stop
const UnknownArrival = "N/A"

const (
	defaultTripCacheSize       = 4096
	defaultTripCacheExpiration = 10 * time.Minute
)

// HybridPolicy decides whether a vehicle is close enough to a stop to stand in for an unmatched route
type HybridPolicy struct {
	Distance  func(lat1, lon1, lat2, lon2 float64) float64
	Threshold float64
}

// EuclideanDegrees is the straight line distance between two coordinates measured in degrees
func EuclideanDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	return math.Hypot(lat1-lat2, lon1-lon2)
}

// DefaultHybridPolicy accepts vehicles within roughly 500m in southern Ontario
var DefaultHybridPolicy = HybridPolicy{Distance: EuclideanDegrees, Threshold: 0.005}

func (h HybridPolicy) near(vehicle busstate.LiveVehicle, stop busstate.Stop) bool {
	return h.Distance(vehicle.Lat, vehicle.Lon, stop.Lat, stop.Lon) < h.Threshold
}

// Config holds the Reader's tunable behaviour
type Config struct {
	// Location is the agency time zone schedule times are expressed in
	Location *time.Location
	// SequenceTolerance allows a vehicle this many stops past the target to still be a direct match
	SequenceTolerance int
	// Hybrid is DefaultHybridPolicy when Distance is nil
	Hybrid HybridPolicy
	// TripCacheSize and TripCacheExpiration bound the trip identity cache, zero uses defaults
	TripCacheSize       int
	TripCacheExpiration time.Duration
	// Metrics is optional
	Metrics *metrics.Collector
}

// Reader answers arrival queries for a stop
type Reader struct {
	log      *log.Logger
	store    kvstore.Store
	cfg      Config
	trips    *tripCache
	holidays *transitHolidayCalendar
	now      func() time.Time
}

// NewReader builds a Reader over store
func NewReader(log *log.Logger, store kvstore.Store, cfg Config) *Reader {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Hybrid.Distance == nil {
		cfg.Hybrid = DefaultHybridPolicy
	}
	if cfg.TripCacheSize <= 0 {
		cfg.TripCacheSize = defaultTripCacheSize
	}
	if cfg.TripCacheExpiration <= 0 {
		cfg.TripCacheExpiration = defaultTripCacheExpiration
	}
	return &Reader{
		log:      log,
		store:    store,
		cfg:      cfg,
		trips:    makeTripCache(cfg.TripCacheSize, cfg.TripCacheExpiration),
		holidays: makeTransitHolidayCalendar(),
		now:      time.Now,
	}
}

// StopDetails identifies the requested stop
type StopDetails struct {
	ID   string  `json:"id"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Bus is a live vehicle expected at the stop
type Bus struct {
	busstate.LiveVehicle
	RouteID              string  `json:"route_id"`
	Headsign             string  `json:"headsign"`
	NextScheduledArrival string  `json:"next_scheduled_arrival"`
	NextStopName         *string `json:"next_stop_name"`
	// TargetStopSequence is zero for hybrid matches where the sequence is unknown
	TargetStopSequence int  `json:"target_stop_sequence"`
	Hybrid             bool `json:"hybrid"`

	nextStopID string
}

// OfflineSchedule is a schedule only prediction for a route with no live vehicle
type OfflineSchedule struct {
	RouteID              string `json:"route_id"`
	Headsign             string `json:"headsign"`
	NextScheduledArrival string `json:"next_scheduled_arrival"`
}

// Arrivals is the result of a Reader query
type Arrivals struct {
	Stop             StopDetails       `json:"stop_details"`
	NearbyBuses      []Bus             `json:"nearby_buses"`
	OfflineSchedules []OfflineSchedule `json:"offline_schedules"`
	AllRoutes        [][2]string       `json:"all_routes"`
	Holiday          bool              `json:"holiday"`
}

// vehicle is a LiveVehicle enriched with its trip identity
type vehicle struct {
	busstate.LiveVehicle
	trip busstate.Trip
}

func (v vehicle) routeHeadsign() busstate.RouteHeadsign {
	return busstate.RouteHeadsign{RouteID: v.trip.RouteID, Headsign: v.trip.Headsign}
}

// stopInputs holds the records fetched for a stop in one round trip
type stopInputs struct {
	stop     busstate.Stop
	routes   []busstate.RouteHeadsign
	schedule []busstate.ScheduleEntry
	vehicles []busstate.LiveVehicle
}

// Arrivals returns live and schedule predictions for stopID
func (r *Reader) Arrivals(ctx context.Context, stopID string) (*Arrivals, error) {
	result, err := r.arrivals(ctx, stopID)
	r.recordRequest(err)
	return result, err
}

func (r *Reader) arrivals(ctx context.Context, stopID string) (*Arrivals, error) {
	now := r.now().In(r.cfg.Location)

	inputs, err := r.loadStopInputs(ctx, stopID)
	if err != nil {
		return nil, err
	}

	vehicles, err := r.enrichVehicles(ctx, inputs.vehicles)
	if err != nil {
		return nil, err
	}

	allowed := make(map[busstate.RouteHeadsign]bool, len(inputs.routes))
	for _, route := range inputs.routes {
		allowed[route] = true
	}
	pairs := make([]busstate.RouteHeadsign, 0, len(allowed))
	for route := range allowed {
		pairs = append(pairs, route)
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Less(pairs[j])
	})

	stopTimes := newStopTimesLoader(r.store)
	buses, ignored, liveCovered, err := r.directMatches(ctx, stopID, vehicles, allowed, stopTimes)
	if err != nil {
		return nil, err
	}

	var offline []OfflineSchedule
	currentTime := busstate.TimeOfDay(now)
	for _, pair := range pairs {
		if liveCovered[pair] {
			continue
		}
		departure, found := nextDeparture(inputs.schedule, pair, currentTime)
		if !found {
			continue
		}
		bus, matched, err := r.hybridMatch(ctx, pair, departure, ignored, inputs.stop, stopTimes)
		if err != nil {
			return nil, err
		}
		if matched {
			buses = append(buses, bus)
			liveCovered[pair] = true
			continue
		}
		offline = append(offline, OfflineSchedule{
			RouteID:              pair.RouteID,
			Headsign:             pair.Headsign,
			NextScheduledArrival: busstate.NormalizeTimeOfDay(departure.Time),
		})
	}

	if err = r.resolveNextStopNames(ctx, buses); err != nil {
		return nil, err
	}

	r.recordMatches(buses, offline)
	r.log.Printf("stop %s: %d live buses, %d offline schedules\n", stopID, len(buses), len(offline))

	allRoutes := make([][2]string, 0, len(pairs))
	for _, pair := range pairs {
		allRoutes = append(allRoutes, [2]string{pair.RouteID, pair.Headsign})
	}
	if buses == nil {
		buses = []Bus{}
	}
	if offline == nil {
		offline = []OfflineSchedule{}
	}
	return &Arrivals{
		Stop: StopDetails{
			ID:   stopID,
			Lat:  inputs.stop.Lat,
			Lon:  inputs.stop.Lon,
			Name: inputs.stop.Name,
		},
		NearbyBuses:      buses,
		OfflineSchedules: offline,
		AllRoutes:        allRoutes,
		Holiday:          r.holidays.isHoliday(busstate.Get12AmTime(now)),
	}, nil
}

// loadStopInputs fetches the stop, its routes, its schedule and the live snapshot together
func (r *Reader) loadStopInputs(ctx context.Context, stopID string) (*stopInputs, error) {
	stopKey := busstate.StopKey(stopID)
	routesKey := busstate.StopRoutesKey(stopID)
	scheduleKey := busstate.StopScheduleKey(stopID)
	items, err := r.store.BatchGet(ctx, []string{stopKey, routesKey, scheduleKey, busstate.BusAllKey})
	if err != nil {
		return nil, fmt.Errorf("loading stop %s: %w", stopID, err)
	}

	item, present := items[stopKey]
	if !present {
		return nil, ErrStopNotFound
	}
	var inputs stopInputs
	if err = busstate.Decode(item, &inputs.stop); err != nil {
		return nil, err
	}
	if item, present = items[routesKey]; present {
		var routes busstate.StopRoutes
		if err = busstate.Decode(item, &routes); err != nil {
			return nil, err
		}
		inputs.routes = routes.Routes
	}
	if item, present = items[scheduleKey]; present {
		var schedule busstate.StopSchedule
		if err = busstate.Decode(item, &schedule); err != nil {
			return nil, err
		}
		inputs.schedule = schedule.Schedule
	}
	if item, present = items[busstate.BusAllKey]; present {
		var snapshot busstate.LiveSnapshot
		if err = busstate.Decode(item, &snapshot); err != nil {
			return nil, err
		}
		if len(snapshot.BusesBinary) > 0 {
			if inputs.vehicles, err = busstate.DecodeVehicles(snapshot.BusesBinary); err != nil {
				return nil, err
			}
		}
	}
	return &inputs, nil
}

// enrichVehicles attaches trip identity to every vehicle, vehicles with unknown trips keep an empty identity
func (r *Reader) enrichVehicles(ctx context.Context, liveVehicles []busstate.LiveVehicle) ([]vehicle, error) {
	seen := make(map[string]bool)
	var tripIDs []string
	for _, v := range liveVehicles {
		if len(v.TripID) > 0 && !seen[v.TripID] {
			seen[v.TripID] = true
			tripIDs = append(tripIDs, v.TripID)
		}
	}
	trips, err := r.trips.resolve(ctx, r.store, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving trips: %w", err)
	}
	results := make([]vehicle, 0, len(liveVehicles))
	for _, v := range liveVehicles {
		results = append(results, vehicle{LiveVehicle: v, trip: trips[v.TripID]})
	}
	return results, nil
}

// directMatches splits vehicles into those on an allowed route that have not yet passed the stop and everyone else
func (r *Reader) directMatches(ctx context.Context,
	stopID string,
	vehicles []vehicle,
	allowed map[busstate.RouteHeadsign]bool,
	stopTimes *stopTimesLoader) (buses []Bus, ignored []vehicle, liveCovered map[busstate.RouteHeadsign]bool, err error) {

	var candidateTrips []string
	for _, v := range vehicles {
		if allowed[v.routeHeadsign()] {
			candidateTrips = append(candidateTrips, v.TripID)
		}
	}
	if err = stopTimes.load(ctx, candidateTrips); err != nil {
		return nil, nil, nil, err
	}

	liveCovered = make(map[busstate.RouteHeadsign]bool)
	for _, v := range vehicles {
		pair := v.routeHeadsign()
		if !allowed[pair] {
			ignored = append(ignored, v)
			continue
		}
		entries := stopTimes.get(v.TripID)
		target, found := targetStopTime(entries, stopID, int(v.CurrentStopSequence), r.cfg.SequenceTolerance)
		if !found {
			ignored = append(ignored, v)
			continue
		}
		arrival := target.ArrivalTime
		if len(arrival) == 0 {
			arrival = UnknownArrival
		}
		buses = append(buses, Bus{
			LiveVehicle:          v.LiveVehicle,
			RouteID:              pair.RouteID,
			Headsign:             pair.Headsign,
			NextScheduledArrival: arrival,
			TargetStopSequence:   target.StopSequence,
			nextStopID:           nextStopID(entries, int(v.CurrentStopSequence)),
		})
		liveCovered[pair] = true
	}
	return buses, ignored, liveCovered, nil
}

// hybridMatch promotes the first ignored vehicle on pair's route close to the stop, ignoring headsign
func (r *Reader) hybridMatch(ctx context.Context,
	pair busstate.RouteHeadsign,
	departure busstate.ScheduleEntry,
	ignored []vehicle,
	stop busstate.Stop,
	stopTimes *stopTimesLoader) (Bus, bool, error) {

	for _, v := range ignored {
		if v.trip.RouteID != pair.RouteID || !r.cfg.Hybrid.near(v.LiveVehicle, stop) {
			continue
		}
		if err := stopTimes.load(ctx, []string{v.TripID}); err != nil {
			return Bus{}, false, err
		}
		r.log.Printf("hybrid match: vehicle %s on route %s %q for %q\n", v.ID, v.trip.RouteID, v.trip.Headsign, pair.Headsign)
		return Bus{
			LiveVehicle:          v.LiveVehicle,
			RouteID:              pair.RouteID,
			Headsign:             pair.Headsign,
			NextScheduledArrival: departure.Time,
			TargetStopSequence:   0,
			Hybrid:               true,
			nextStopID:           nextStopID(stopTimes.get(v.TripID), int(v.CurrentStopSequence)),
		}, true, nil
	}
	return Bus{}, false, nil
}

// resolveNextStopNames fills NextStopName on buses with a known next stop
func (r *Reader) resolveNextStopNames(ctx context.Context, buses []Bus) error {
	seen := make(map[string]bool)
	var keys []string
	for _, bus := range buses {
		if len(bus.nextStopID) > 0 && !seen[bus.nextStopID] {
			seen[bus.nextStopID] = true
			keys = append(keys, busstate.StopKey(bus.nextStopID))
		}
	}
	items, err := batchGet(ctx, r.store, keys)
	if err != nil {
		return fmt.Errorf("loading next stops: %w", err)
	}
	for i := range buses {
		item, present := items[busstate.StopKey(buses[i].nextStopID)]
		if !present {
			continue
		}
		var stop busstate.Stop
		if err = busstate.Decode(item, &stop); err != nil {
			return err
		}
		name := stop.Name
		buses[i].NextStopName = &name
	}
	return nil
}

// targetStopTime finds the entry for stopID the vehicle has not yet passed
func targetStopTime(entries []busstate.StopTimeEntry, stopID string, currentSequence int, tolerance int) (busstate.StopTimeEntry, bool) {
	for _, entry := range entries {
		if entry.StopID == stopID && currentSequence <= entry.StopSequence+tolerance {
			return entry, true
		}
	}
	return busstate.StopTimeEntry{}, false
}

// nextStopID returns the stop of the first entry after currentSequence
func nextStopID(entries []busstate.StopTimeEntry, currentSequence int) string {
	for _, entry := range entries {
		if entry.StopSequence > currentSequence {
			return entry.StopID
		}
	}
	return ""
}

// nextDeparture returns the first entry for pair after currentTime, or the pair's first entry of the day.
// Entries are sorted by time, departures earlier than currentTime are not wrapped to the following day.
func nextDeparture(schedule []busstate.ScheduleEntry, pair busstate.RouteHeadsign, currentTime string) (busstate.ScheduleEntry, bool) {
	var first *busstate.ScheduleEntry
	for i, entry := range schedule {
		if entry.RouteID != pair.RouteID || entry.Headsign != pair.Headsign {
			continue
		}
		if entry.Time > currentTime {
			return entry, true
		}
		if first == nil {
			first = &schedule[i]
		}
	}
	if first == nil {
		return busstate.ScheduleEntry{}, false
	}
	return *first, true
}

func (r *Reader) recordRequest(err error) {
	if r.cfg.Metrics == nil {
		return
	}
	switch {
	case err == nil:
		r.cfg.Metrics.ReaderRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrStopNotFound):
		r.cfg.Metrics.ReaderRequests.WithLabelValues("not_found").Inc()
	default:
		r.cfg.Metrics.ReaderRequests.WithLabelValues("error").Inc()
	}
}

func (r *Reader) recordMatches(buses []Bus, offline []OfflineSchedule) {
	if r.cfg.Metrics == nil {
		return
	}
	for _, bus := range buses {
		if bus.Hybrid {
			r.cfg.Metrics.ReaderMatches.WithLabelValues("hybrid").Inc()
		} else {
			r.cfg.Metrics.ReaderMatches.WithLabelValues("direct").Inc()
		}
	}
	r.cfg.Metrics.ReaderMatches.WithLabelValues("offline").Add(float64(len(offline)))
}
