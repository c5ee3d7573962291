package crdtpubsub

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/crdtpatch"
)

// Encoder encodes a CRDT patch into a byte array using the specified format.
type Encoder interface {
	// Encode encodes a CRDT patch into a byte array.
	Encode(patch *crdtpatch.Patch) ([]byte, error)
}

// Decoder decodes a byte array into a CRDT patch using the specified format.
type Decoder interface {
	// Decode decodes a byte array into a CRDT patch.
	Decode(data []byte) (*crdtpatch.Patch, error)
}

// EncoderDecoder combines the Encoder and Decoder interfaces.
type EncoderDecoder interface {
	Encoder
	Decoder
}

// JSONEncoderDecoder implements the EncoderDecoder interface using JSON encoding.
type JSONEncoderDecoder struct{}

// Encode encodes a CRDT patch into a JSON byte array.
func (ed *JSONEncoderDecoder) Encode(patch *crdtpatch.Patch) ([]byte, error) {
	return json.Marshal(patch)
}

// Decode decodes a JSON byte array into a CRDT patch.
func (ed *JSONEncoderDecoder) Decode(data []byte) (*crdtpatch.Patch, error) {
	var patch crdtpatch.Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, errors.Wrap(err, "failed to decode patch")
	}
	return &patch, nil
}

// Base64EncoderDecoder wraps another EncoderDecoder in standard base64.
type Base64EncoderDecoder struct {
	underlying EncoderDecoder
}

// NewBase64EncoderDecoder creates a Base64EncoderDecoder. A nil underlying
// encoder means JSON.
func NewBase64EncoderDecoder(underlying EncoderDecoder) *Base64EncoderDecoder {
	if underlying == nil {
		underlying = &JSONEncoderDecoder{}
	}
	return &Base64EncoderDecoder{underlying: underlying}
}

// Encode encodes a CRDT patch into a base64 byte array.
func (ed *Base64EncoderDecoder) Encode(patch *crdtpatch.Patch) ([]byte, error) {
	data, err := ed.underlying.Encode(patch)
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)
	return encoded, nil
}

// Decode decodes a base64 byte array into a CRDT patch.
func (ed *Base64EncoderDecoder) Decode(data []byte) (*crdtpatch.Patch, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(decoded, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64 payload")
	}
	return ed.underlying.Decode(decoded[:n])
}

// GetEncoderDecoder returns an EncoderDecoder for the specified format.
func GetEncoderDecoder(format EncodingFormat) (EncoderDecoder, error) {
	switch format {
	case EncodingFormatJSON:
		return &JSONEncoderDecoder{}, nil
	case EncodingFormatBase64:
		return NewBase64EncoderDecoder(&JSONEncoderDecoder{}), nil
	default:
		return nil, errors.Errorf("unsupported encoding format: %s", format)
	}
}

// DecodePatch decodes a payload received from a subscription.
func DecodePatch(data []byte, format EncodingFormat) (*crdtpatch.Patch, error) {
	decoder, err := GetEncoderDecoder(format)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(data)
}
