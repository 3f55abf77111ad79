package busstate

import (
	"strconv"
	"strings"
)

// key prefixes shared by every component reading or writing the store
const (
	StopPrefix          = "STOP#"
	TripPrefix          = "TRIP#"
	StopRoutesPrefix    = "STOP_ROUTES#"
	TripStopTimesPrefix = "TRIP_STOP_TIMES#"
	StopSchedulePrefix  = "STOP_SCHEDULE#"
	BusHistoryPrefix    = "BUS_HISTORY#"

	// BusAllKey holds the current LiveSnapshot
	BusAllKey = "BUS_ALL"
	// ConfigStaticKey holds the FeedFingerprint of the last indexed static feed
	ConfigStaticKey = "CONFIG#STATIC"
)

// StopKey is the key of the Stop record for stopID
func StopKey(stopID string) string {
	return StopPrefix + stopID
}

// TripKey is the key of the Trip record for tripID
func TripKey(tripID string) string {
	return TripPrefix + tripID
}

// StopRoutesKey is the key of the StopRoutes record for stopID
func StopRoutesKey(stopID string) string {
	return StopRoutesPrefix + stopID
}

// TripStopTimesKey is the key of the TripStopTimes record for tripID
func TripStopTimesKey(tripID string) string {
	return TripStopTimesPrefix + tripID
}

// StopScheduleKey is the key of the StopSchedule record for stopID
func StopScheduleKey(stopID string) string {
	return StopSchedulePrefix + stopID
}

// BusHistoryKey is the key of the LiveHistory record captured at unix timestamp
func BusHistoryKey(timestamp int64) string {
	return BusHistoryPrefix + strconv.FormatInt(timestamp, 10)
}

// IDFromKey returns the identifier portion of key if it starts with prefix
func IDFromKey(prefix string, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}
