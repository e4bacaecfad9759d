package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Header and bucket records are plain JSON objects, so either JSON codec
// keeps the persisted layout directly inspectable with generic tooling.
// Use JSON when you want the most portable, lowest-dependency option.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the default codec used by the library.
//
// NOTE: Records persisted by an index are not self-describing; an index
// must be reopened with the same codec (or a byte-compatible one) that
// wrote its records.
var Default Codec = GoJSON{}
