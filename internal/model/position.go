package model

import (
	"time"

	"nearby-tasks/internal/geo"
)

// DevicePosition is one location fix from the user's device.
type DevicePosition struct {
	geo.Coordinate
	Timestamp time.Time `json:"timestamp"`
}
