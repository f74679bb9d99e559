package pool

import (
	"encoding/json"

	"github.com/c360/dataports/errors"
)

// Codec serializes values of one type for the network
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes values with encoding/json
type JSONCodec[T any] struct{}

// Encode marshals v to JSON
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Encode", "marshal value")
	}
	return data, nil
}

// Decode unmarshals a JSON document into a new value
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.WrapInvalid(errors.ErrCodecFailed, "JSONCodec", "Decode", err.Error())
	}
	return v, nil
}
