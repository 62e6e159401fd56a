package commsutil

import (
	"encoding/json"
	"errors"
)

// ErrEmptyPayload is returned when a message that must carry a body has none.
var ErrEmptyPayload = errors.New("empty payload")

// EncodePayload serializes a control or envelope value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}
