package images

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Collection describes an entity collection document and its companion
// images document.
type Collection struct {
	Key       string
	ImagesKey string
	// Field is the single image field, or the legacy fallback when
	// ArrayField is set.
	Field string
	// ArrayField holds an ordered list of images.
	ArrayField string
}

// Collections lists the entity documents scanned for embedded images.
var Collections = []Collection{
	{Key: "cm_tasks", ImagesKey: "cm_tasks_images", Field: "image"},
	{Key: "cm_auctions", ImagesKey: "cm_auctions_images", Field: "image"},
	{Key: "cm_lotteries", ImagesKey: "cm_lotteries_images", Field: "image"},
	{Key: "cm_products", ImagesKey: "cm_products_images", Field: "image", ArrayField: "images"},
}

// CollectionFor returns the collection stored under key.
func CollectionFor(key string) (Collection, bool) {
	for _, c := range Collections {
		if c.Key == key {
			return c, true
		}
	}
	return Collection{}, false
}

// Extract rewrites records in place and returns the moved payloads. Records
// without an id are left untouched.
func (c Collection) Extract(records []any) Extraction {
	ex := newExtraction()
	for _, item := range records {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := recordID(record["id"])
		if !ok {
			continue
		}
		if c.ArrayField != "" {
			c.extractList(record, id, &ex)
			continue
		}
		if payload, ok := IsDataURI(record[c.Field]); ok {
			ex.add(id, fmt.Sprintf("%s.%s", id, c.Field), payload)
			record[c.Field] = Placeholder
		}
	}
	return ex
}

func (c Collection) extractList(record map[string]any, id string, ex *Extraction) {
	list, fromLegacy := c.effectiveList(record)
	if len(list) == 0 {
		return
	}

	changed := false
	for idx, value := range list {
		payload, ok := IsDataURI(value)
		if !ok {
			continue
		}
		key := id + "_" + strconv.Itoa(idx)
		ex.add(key, fmt.Sprintf("%s.%s[%d]", id, c.ArrayField, idx), payload)
		list[idx] = StoredRef(key)
		changed = true
	}
	if !changed {
		return
	}

	record[c.ArrayField] = list
	if fromLegacy {
		record[c.Field] = list[0]
	}
}

// effectiveList returns a copy of the image list: the array field when it is
// non-empty, else the legacy single field.
func (c Collection) effectiveList(record map[string]any) ([]any, bool) {
	if list, ok := record[c.ArrayField].([]any); ok && len(list) > 0 {
		out := make([]any, len(list))
		copy(out, list)
		return out, false
	}
	if legacy, ok := record[c.Field].(string); ok && legacy != "" {
		return []any{legacy}, true
	}
	return nil, false
}

func recordID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
