package model

import "encoding/json"

// MergeMeta sets key to value inside a JSON object, preserving the other
// fields. Malformed input is treated as an empty object.
func MergeMeta(meta json.RawMessage, key string, value any) json.RawMessage {
	m := map[string]any{}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m)
	}
	m[key] = value
	out, err := json.Marshal(m)
	if err != nil {
		return meta
	}
	return out
}
