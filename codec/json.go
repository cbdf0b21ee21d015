package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Notes:
// - For metadata and manifest blobs (map-like structures), JSON is stable
//   and portable across readers written in other languages.
// - If you need the most portable, lowest-dependency option, use JSON.
//
// Persisted blobs do not record which codec wrote them; a reader decodes
// them with whatever codec its Store was built with.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the default codec used for newly-written metadata and manifest
// blobs. manifest.Store and metadata.Store also decode existing blobs with
// it; the blobs are plain JSON and carry no codec name.
var Default Codec = GoJSON{}
