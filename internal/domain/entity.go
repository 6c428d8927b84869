package domain

import (
	"encoding/json"
	"reflect"
)

// ToJSONBAttributes marshals an attribute map for JSONB storage. A nil map
// marshals as an empty document, not JSON null.
func ToJSONBAttributes(attributes map[string]any) (json.RawMessage, error) {
	if attributes == nil {
		attributes = make(map[string]any)
	}
	return json.Marshal(attributes)
}

// FromJSONBAttributes decodes a JSONB document into an attribute map.
func FromJSONBAttributes(attributesJSON json.RawMessage) (map[string]any, error) {
	var attributes map[string]any
	err := json.Unmarshal(attributesJSON, &attributes)
	return attributes, err
}

// AttributesEqual reports structural deep equality between two attribute maps.
// Null is a distinct value from the empty string, and a field set to null is
// distinct from an absent field. No type coercion is applied: values compare
// equal only if their decoded JSON representations match exactly.
func AttributesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

// CloneAttributes shallow-copies an attribute map. Nested values are shared;
// callers treat attribute maps as read-only once handed over.
func CloneAttributes(attributes map[string]any) map[string]any {
	cloned := make(map[string]any, len(attributes))
	for k, v := range attributes {
		cloned[k] = v
	}
	return cloned
}
