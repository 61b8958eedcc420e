package types

import "time"

// Reading is a validated sensor reading as served to clients.
// Temperature and Humidity are nil when the sensor did not report a usable value.
type Reading struct {
	Key         string   `json:"key"`
	Timestamp   int64    `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// Time returns the reading timestamp as a UTC time.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}
