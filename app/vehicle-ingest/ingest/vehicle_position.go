package ingest

import (
	"fmt"
	"math"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/OpenTransitTools/busstate/business/data/busstate"
	"google.golang.org/protobuf/proto"
)

// coordinatePrecision rounds positions to 5 decimal places, roughly one meter
const coordinatePrecision = 1e5

/*
decodeVehicles reads gtfs-realtime vehicle positions from content into busstate.LiveVehicle records tagged with
capturedAt. Any changes to the GTFS-realtime protocol or generated code can be handled here and not elsewhere.
*/
func decodeVehicles(content []byte, capturedAt int64) ([]busstate.LiveVehicle, error) {
	feedMessage := gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(content, &feedMessage); err != nil {
		return nil, fmt.Errorf("unable to unmarshal FeedMessage: %w", err)
	}
	var vehicles []busstate.LiveVehicle
	for _, entity := range feedMessage.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}
		position := vehicle.GetPosition()
		vehicles = append(vehicles, busstate.LiveVehicle{
			ID:                  vehicle.GetVehicle().GetId(),
			Lat:                 roundCoordinate(position.GetLatitude()),
			Lon:                 roundCoordinate(position.GetLongitude()),
			Bearing:             position.GetBearing(),
			TripID:              vehicle.GetTrip().GetTripId(),
			CurrentStopSequence: vehicle.GetCurrentStopSequence(),
			Timestamp:           capturedAt,
		})
	}
	return vehicles, nil
}

func roundCoordinate(value float32) float64 {
	return math.Round(float64(value)*coordinatePrecision) / coordinatePrecision
}
