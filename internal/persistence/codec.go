package persistence

import (
	"bytes"
	"encoding/gob"
)

// Encode serializes a value using encoding/gob. A nil-like zero input
// still produces a payload; use the typed Decode to get it back. Dynamic
// values inside (step results, context entries) must be gob-registered;
// pkg/api registers the common ones.
func Encode[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a payload produced by Encode. Empty payloads decode
// to the zero value.
func Decode[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
