package codec

import gojson "github.com/goccy/go-json"

// GoJSON is backed by github.com/goccy/go-json. It honors the same
// json.Marshaler and encoding.TextMarshaler methods as encoding/json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

func (GoJSON) Name() string { return "go-json" }
