package kv

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/charlesng35/shopkv/internal/images"
)

// ErrInvalidValue is returned when a pre-serialised value is not valid JSON.
var ErrInvalidValue = errors.New("kv: value is not valid JSON")

// RawText is stored verbatim. It is what a client sends when it serialises a
// value itself.
type RawText string

// EncodeValue turns a value into the stored text. json.RawMessage must be
// valid JSON; RawText is kept as-is; everything else is JSON-encoded.
func EncodeValue(value any) (string, error) {
	switch v := value.(type) {
	case RawText:
		return string(v), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return "", ErrInvalidValue
		}
		return string(v), nil
	default:
		return images.Encode(v)
	}
}

// DecodeValue parses stored text. Text that is not valid JSON is returned
// unchanged as a string.
func DecodeValue(raw string) any {
	value, err := images.Decode(raw)
	if err != nil {
		return raw
	}
	return value
}

// FromWire interprets a value received over the API. A JSON string literal
// carries client-serialised text and is stored verbatim; any other JSON value
// is stored as sent.
func FromWire(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return RawText(text)
		}
	}
	return json.RawMessage(trimmed)
}
