package cache

import (
	"bytes"
	"encoding/json"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// JSONSerializer is the default codec for the remote and disk tiers. Values
// round-trip through JSON, so non-JSON-native types come back as generic maps.
type JSONSerializer struct{}

// Encode marshals a value to JSON bytes.
func (JSONSerializer) Encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeSerialization, "encode failed")
	}
	return data, nil
}

// Decode unmarshals JSON bytes into a generic value. Numbers decode as
// json.Number to avoid silent float truncation of large IDs.
func (JSONSerializer) Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeSerialization, "decode failed")
	}
	return value, nil
}

var _ types.Serializer = JSONSerializer{}
