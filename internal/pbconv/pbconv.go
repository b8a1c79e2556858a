// Package pbconv moves the JSON-tagged request and response types in and
// out of google.protobuf.Struct, the message type carried by both the
// protobuf HTTP encoding and the gRPC Monitor service.
package pbconv

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts v, via its JSON encoding, into a Struct.  v must
// encode as a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pbconv: marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pbconv: %T is not an object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v.  Fields unknown to v are rejected, like
// the JSON request decoders do.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("pbconv: marshal struct: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("pbconv: decode: %w", err)
	}
	return nil
}
