package stream

import (
	"encoding/json"
	"fmt"

	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
)

// Encode frames a reading as one server-sent event:
//
//	data: {"key":"…","timestamp":…,"temperature":…,"humidity":…}\n\n
func Encode(r types.Reading) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading %q: %w", r.Key, err)
	}
	return frame("", payload), nil
}

// EncodeError frames a stream-level error event.
func EncodeError(message string) []byte {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"stream error"}`)
	}
	return frame("error", payload)
}

func frame(event string, payload []byte) []byte {
	buf := make([]byte, 0, len(event)+len(payload)+16)
	if event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, event...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return buf
}
