// Package images finds base64 data-URI payloads embedded in storefront
// documents and moves them into companion images documents.
package images

import (
	"math"
	"strings"
)

const (
	// Placeholder replaces a payload that now lives in an images document.
	Placeholder = "__stored__"
	// DataURIPrefix marks an embedded payload.
	DataURIPrefix = "data:"

	AppearanceKey       = "cm_appearance"
	AppearanceImagesKey = "cm_images"
)

// IsDataURI reports whether v is a string holding an embedded payload.
func IsDataURI(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, DataURIPrefix) {
		return "", false
	}
	return s, true
}

// StoredRef is the placeholder used for positional array entries.
func StoredRef(key string) string {
	return Placeholder + ":" + key
}

// Extraction collects the payloads moved out of one document.
type Extraction struct {
	// Images maps the companion-document key to the payload.
	Images map[string]string
	// Moved lists the dotted labels of the rewritten fields, in rule order.
	Moved []string
	// Chars is the total length of the moved payloads.
	Chars int
}

func newExtraction() Extraction {
	return Extraction{Images: map[string]string{}, Moved: []string{}}
}

func (e *Extraction) add(key, label, payload string) {
	e.Images[key] = payload
	e.Moved = append(e.Moved, label)
	e.Chars += len(payload)
}

// Count is the number of payloads moved.
func (e Extraction) Count() int {
	return len(e.Images)
}

// SavedKB is the moved payload size in KiB, rounded to the nearest integer.
func (e Extraction) SavedKB() int {
	return int(math.Round(float64(e.Chars) / 1024))
}

// Merge adds extracted payloads to an existing images document. Existing
// keys not present in extracted are kept.
func Merge(existing map[string]any, extracted map[string]string) map[string]any {
	out := make(map[string]any, len(existing)+len(extracted))
	for key, value := range existing {
		out[key] = value
	}
	for key, value := range extracted {
		out[key] = value
	}
	return out
}
