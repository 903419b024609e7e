package model

// NotificationEvent is built right before a proximity alert is sent and is not kept.
type NotificationEvent struct {
	TaskID         string
	Title          string
	Body           string
	DistanceMeters float64
}
