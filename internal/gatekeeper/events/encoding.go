package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Encoding selects the wire format of published payloads.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// cborMode uses Core Deterministic Encoding so identical events always
// produce identical bytes.
var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
}

// ParseEncoding accepts "json" (the default when empty) or "cbor".
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown event encoding %q", s)
	}
}

func (e Encoding) marshal(v any) ([]byte, error) {
	if e == EncodingCBOR {
		return cborMode.Marshal(v)
	}
	return json.Marshal(v)
}

// Decode unmarshals a payload produced with encoding e.  Consumers and
// tests use it to read events back.
func (e Encoding) Decode(data []byte, v any) error {
	if e == EncodingCBOR {
		return cbor.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// ContentType is set as the Content-Type header on published messages.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}
