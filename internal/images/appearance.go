package images

import (
	"sort"
	"strings"
)

// FieldRule locates one image-bearing field of the appearance document.
type FieldRule struct {
	Path  []string
	Key   string
	Label string
}

// AppearanceFields are the fixed image fields of the appearance document.
var AppearanceFields = []FieldRule{
	{Path: []string{"logo"}, Key: "logo", Label: "logo"},
	{Path: []string{"banner", "image"}, Key: "bannerImage", Label: "banner.image"},
	{Path: []string{"currency", "logo"}, Key: "currencyLogo", Label: "currency.logo"},
	{Path: []string{"seo", "favicon"}, Key: "favicon", Label: "seo.favicon"},
}

const sectionSettingsField = "sectionSettings"

// SectionRule builds the rule for a per-section banner.
func SectionRule(section string) FieldRule {
	return FieldRule{
		Path:  []string{sectionSettingsField, section, "banner"},
		Key:   "section_" + section + "_banner",
		Label: sectionSettingsField + "." + section + ".banner",
	}
}

// Apply moves the field into ex when it holds a data URI and replaces it
// with the placeholder. It reports whether the field was moved.
func (r FieldRule) Apply(doc map[string]any, ex *Extraction) bool {
	parent, leaf, ok := walk(doc, r.Path)
	if !ok {
		return false
	}
	payload, ok := IsDataURI(parent[leaf])
	if !ok {
		return false
	}
	ex.add(r.Key, r.Label, payload)
	parent[leaf] = Placeholder
	return true
}

// String returns the dotted label.
func (r FieldRule) String() string {
	if r.Label != "" {
		return r.Label
	}
	return strings.Join(r.Path, ".")
}

// ExtractAppearance rewrites doc in place. Fixed fields are visited first,
// then section banners in name order.
func ExtractAppearance(doc map[string]any) Extraction {
	ex := newExtraction()
	if doc == nil {
		return ex
	}

	for _, rule := range AppearanceFields {
		rule.Apply(doc, &ex)
	}

	sections, ok := doc[sectionSettingsField].(map[string]any)
	if !ok {
		return ex
	}
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		SectionRule(name).Apply(doc, &ex)
	}

	return ex
}

func walk(doc map[string]any, path []string) (map[string]any, string, bool) {
	if len(path) == 0 {
		return nil, "", false
	}
	current := doc
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return nil, "", false
		}
		current = next
	}
	return current, path[len(path)-1], true
}
