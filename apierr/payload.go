package apierr

import (
	"encoding/json"
	"errors"
)

// Payload is an opaque copy of a response body attached to an Error.
type Payload []byte

func (p Payload) IsZero() bool { return len(p) == 0 }

// Decode unmarshals a JSON payload into v.
func (p Payload) Decode(v any) error {
	if p.IsZero() {
		return errors.New("apierr: empty payload")
	}
	return json.Unmarshal(p, v)
}

func (p Payload) String() string { return string(p) }

// MarshalJSON embeds JSON payloads verbatim and quotes anything else.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	if json.Valid(p) {
		return append([]byte(nil), p...), nil
	}
	return json.Marshal(string(p))
}
