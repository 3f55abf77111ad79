// Package busstate contains the records derived from static and realtime feeds, the key schema they are
// stored under and helpers to read and write them.
package busstate

// Stop is the identity of a stop, keyed by stop code or stop id
type Stop struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Trip holds the route and headsign a trip belongs to
type Trip struct {
	RouteID  string `json:"route_id"`
	Headsign string `json:"headsign"`
}

// RouteHeadsign is a route and direction pair
type RouteHeadsign struct {
	RouteID  string `json:"route_id"`
	Headsign string `json:"headsign"`
}

// Less orders RouteHeadsign by route then headsign
func (r RouteHeadsign) Less(other RouteHeadsign) bool {
	if r.RouteID != other.RouteID {
		return r.RouteID < other.RouteID
	}
	return r.Headsign < other.Headsign
}

// StopRoutes is the set of RouteHeadsign pairs observed serving a stop
type StopRoutes struct {
	Routes []RouteHeadsign `json:"Routes"`
}

// StopTimeEntry is a single scheduled arrival of a trip at a stop
type StopTimeEntry struct {
	StopID string `json:"stop_id"`
	// ArrivalTime is HH:MM:SS, hours may be 24 or more for service after midnight
	ArrivalTime  string `json:"arrival_time"`
	StopSequence int    `json:"stop_sequence"`
}

// TripStopTimes holds a trip's StopTimeEntry records ordered by StopSequence
type TripStopTimes struct {
	StopTimes []StopTimeEntry `json:"StopTimes"`
}

// ScheduleEntry is one scheduled departure at a stop
type ScheduleEntry struct {
	RouteID  string `json:"r"`
	Headsign string `json:"h"`
	Time     string `json:"t"`
}

// StopSchedule holds all ScheduleEntry records at a stop ordered by Time
type StopSchedule struct {
	Schedule []ScheduleEntry `json:"Schedule"`
}

// LiveVehicle is a vehicle position taken from the realtime feed
type LiveVehicle struct {
	ID                  string  `json:"id"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	Bearing             float32 `json:"bearing"`
	TripID              string  `json:"trip_id"`
	CurrentStopSequence uint32  `json:"current_stop_sequence"`
	Timestamp           int64   `json:"timestamp"`
}

// LiveSnapshot is the current set of vehicles, compressed with EncodeVehicles
type LiveSnapshot struct {
	UpdatedAt   int64  `json:"updated_at"`
	BusesBinary []byte `json:"buses_binary"`
	Count       int    `json:"count"`
}

// LiveHistory is an archived LiveSnapshot. TTL is the unix time it becomes eligible for removal
type LiveHistory struct {
	BusesBinary []byte `json:"buses_binary"`
	Count       int    `json:"count"`
	TTL         int64  `json:"ttl"`
}

// FeedFingerprint records the revision marker of the last static feed indexed
type FeedFingerprint struct {
	LastModified string `json:"last_modified"`
	UpdatedAt    int64  `json:"updated_at"`
}
