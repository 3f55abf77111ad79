package busstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// EncodeVehicles serializes vehicles as a gzip compressed JSON array
func EncodeVehicles(vehicles []LiveVehicle) ([]byte, error) {
	if vehicles == nil {
		vehicles = []LiveVehicle{}
	}
	buf := new(bytes.Buffer)
	zw := gzip.NewWriter(buf)
	if err := json.NewEncoder(zw).Encode(vehicles); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encoding vehicles: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing vehicles: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVehicles reverses EncodeVehicles. An empty blob decodes to no vehicles
func DecodeVehicles(blob []byte) ([]LiveVehicle, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("opening compressed vehicles: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing vehicles: %w", err)
	}
	var vehicles []LiveVehicle
	if err = json.Unmarshal(raw, &vehicles); err != nil {
		return nil, fmt.Errorf("decoding vehicles: %w", err)
	}
	return vehicles, nil
}
