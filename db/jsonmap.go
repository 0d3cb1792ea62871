package db

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// JSONMap is an opaque JSONB document. The explorer payloads stored in
// info columns are never interpreted beyond a few known keys, so they
// stay as decoded maps end to end.
type JSONMap = map[string]any

// CloneJSON deep-copies a decoded JSON value. Mutations always happen on
// a clone; the original is kept for the write-on-difference comparison.
func CloneJSON(m JSONMap) JSONMap {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		// Values originate from json.Unmarshal and always round-trip.
		panic(err)
	}
	var out JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

// DeepEqualJSON compares two decoded JSON values structurally. Both
// sides must come from json.Unmarshal so numeric types agree.
func DeepEqualJSON(a, b JSONMap) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// MergeJSON overlays src onto a clone of dst (shallow, key level), the
// non-overwrite mode of the info update endpoints.
func MergeJSON(dst, src JSONMap) JSONMap {
	out := CloneJSON(dst)
	if out == nil {
		out = JSONMap{}
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// CanonicalJSON renders a value with sorted keys, for payload identity
// checks in tests.
func CanonicalJSON(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
