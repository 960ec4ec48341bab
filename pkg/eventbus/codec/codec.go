// Package codec converts application values to and from the transport-
// neutral byte blob that travels over a Transport, guided by the declared
// target type on the receiving end (a handler's parameter type, an exposed
// callable's parameter types, or an explicit type passed to Decode).
//
// The wire format is CBOR (a self-describing, compact tree of strings,
// numbers, booleans, null, arrays and maps — the same shape spec.md asks
// for). Decoding is a two-stage pipeline: CBOR bytes unmarshal into a
// generic tree, which mapstructure then decodes into the declared target
// type by matching field names, recursing into nested records and
// collections. This mirrors how pkg/messaging treats the wire format as an
// opaque []byte Payload and leaves shaping to the caller, except here the
// shaping step is first-class because the dispatcher needs it to invoke
// handlers with concrete values.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-viper/mapstructure/v2"

	apperrors "github.com/chris-alexander-pop/eventbus/pkg/errors"
)

const (
	CodeEncodeFailed = "CODEC_ENCODE_FAILED"
	CodeDecodeFailed = "CODEC_DECODE_FAILED"
)

// EncodeError indicates a value could not be serialized: it holds a type
// the CBOR encoder does not support (such as a channel or a func).
type EncodeError struct {
	*apperrors.AppError
}

func newEncodeError(err error) *EncodeError {
	return &EncodeError{apperrors.New(CodeEncodeFailed, "failed to encode value", err)}
}

// DecodeError indicates a payload could not be reconstructed against the
// declared target type. Path identifies where in the value tree decoding
// failed (e.g. "Order.Items[2].SKU"), best-effort.
type DecodeError struct {
	*apperrors.AppError
	Path string
}

func newDecodeError(path string, err error) *DecodeError {
	return &DecodeError{
		AppError: apperrors.New(CodeDecodeFailed, fmt.Sprintf("failed to decode value at %q", path), err),
		Path:     path,
	}
}

// Encode serializes v to its wire representation. v must be a concrete,
// CBOR-marshalable value — structs, primitive scalars, slices, and maps
// with declared key/value types are all supported. Interface-typed fields
// are encoded from whatever concrete value they hold; Decode fills such a
// field with the generic tree (maps, slices, scalars), not the original
// concrete type.
func Encode(v any) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, newEncodeError(err)
	}
	return data, nil
}

// Decode reconstructs a value of the declared type pointed to by target
// (target must be a non-nil pointer) from data. Field names in the
// encoded tree are matched against target's struct fields; nested records
// are constructed recursively; homogeneous sequences and maps decode to
// their declared element types.
func Decode(data []byte, target any) error {
	var tree any
	if err := cbor.Unmarshal(data, &tree); err != nil {
		return newDecodeError("<root>", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: false,
		ErrorUnused:      false,
		ZeroFields:       true,
		TagName:          "json",
	})
	if err != nil {
		return newDecodeError("<root>", err)
	}

	if err := dec.Decode(tree); err != nil {
		return newDecodeError(pathFromError(err), err)
	}
	return nil
}

// pathFromError extracts a best-effort field path out of a mapstructure
// error. mapstructure reports errors as multi-line text such as
// `* error decoding 'Seq': ...`; we surface the quoted field name when we
// can find one and fall back to "<root>" otherwise.
func pathFromError(err error) string {
	msg := err.Error()
	start := -1
	for i, r := range msg {
		if r == '\'' {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return "<root>"
	}
	end := start
	for end < len(msg) && msg[end] != '\'' {
		end++
	}
	if end <= start {
		return "<root>"
	}
	return msg[start:end]
}
