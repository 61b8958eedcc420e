package types

import (
	"fmt"
	"math"

	"github.com/nathancread/Moist-Meat/internal/source"
)

// RejectedError reports a raw record that cannot become a Reading.
type RejectedError struct {
	Key    string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("record %q rejected: %s", e.Key, e.Reason)
}

// Validate converts a raw record into a Reading. The record's timestamp is in
// seconds and must be a finite number or numeric string; the Reading carries
// milliseconds. Sensor fields that are not finite numbers become nil without
// rejecting the record.
func Validate(raw source.RawRecord) (Reading, error) {
	v, present := raw.Fields[source.FieldTimestamp]
	if !present || v == nil {
		return Reading{}, &RejectedError{Key: raw.Key, Reason: "missing timestamp"}
	}
	seconds, ok := source.Number(v)
	if !ok {
		return Reading{}, &RejectedError{Key: raw.Key, Reason: fmt.Sprintf("timestamp %v is not a number", v)}
	}
	ms := math.Round(seconds * 1000)
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return Reading{}, &RejectedError{Key: raw.Key, Reason: fmt.Sprintf("timestamp %v is not finite", v)}
	}
	if ms >= math.MaxInt64 || ms <= math.MinInt64 {
		return Reading{}, &RejectedError{Key: raw.Key, Reason: fmt.Sprintf("timestamp %v out of range", v)}
	}

	return Reading{
		Key:         raw.Key,
		Timestamp:   int64(ms),
		Temperature: sensorValue(raw.Fields[source.FieldTemperature]),
		Humidity:    sensorValue(raw.Fields[source.FieldHumidity]),
	}, nil
}

// sensorValue accepts native numbers only; strings, even numeric ones, are absent.
func sensorValue(v any) *float64 {
	if _, isString := v.(string); isString {
		return nil
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil
	}
	f, ok := source.Number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
