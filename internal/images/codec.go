package images

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var errTrailingData = errors.New("images: trailing data after JSON value")

// Decode parses JSON text keeping numbers as json.Number so re-encoding does
// not alter them.
func Decode(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return out, nil
}

// DecodeObject parses JSON text that must hold an object.
func DecodeObject(raw string) (map[string]any, bool) {
	value, err := Decode(raw)
	if err != nil {
		return nil, false
	}
	obj, ok := value.(map[string]any)
	return obj, ok
}

// Encode renders v as compact JSON without HTML escaping.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// EncodeImages renders an images document.
func EncodeImages(doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	return Encode(doc)
}
