package domain

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Payload blobs are stored as CBOR with Core Deterministic Encoding so the
// same payload always produces the same bytes.
var (
	payloadEnc cbor.EncMode
	payloadDec cbor.DecMode
)

func init() {
	var err error
	payloadEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("domain: CBOR encoder initialization failed: " + err.Error())
	}
	payloadDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("domain: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodePayload serializes a payload for snapshot storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	b, err := payloadEnc.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload reverses EncodePayload. Numbers come back as float64.
func DecodePayload(b []byte) (Payload, error) {
	if len(b) == 0 {
		return Payload{}, nil
	}
	var m map[string]any
	if err := payloadDec.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return Payload(m).Normalize(), nil
}
