// Package schema validates tool input documents against the stored
// JSON-schema subset: type, required, properties, additionalProperties,
// items, enum, const, minLength, maxLength, minimum, maximum, minItems,
// maxItems.
//
// Two operations: ValidateDefinition checks that a stored schema is
// structurally sound; ValidateValue checks a decoded JSON value against
// a sound schema. Both return issue lists with $-rooted paths; an empty
// list means valid.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Issue is one validation finding at a $-rooted path, e.g.
// {Path: "$.email", Message: "String is shorter than minLength 3"}.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

var validTypes = map[string]bool{
	"object":  true,
	"array":   true,
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"null":    true,
}

// Parse unmarshals a stored schema document. Structural soundness is
// checked separately via ValidateDefinition.
func Parse(raw []byte) (map[string]any, error) {
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("schema: parse definition: %w", err)
	}
	return def, nil
}

// ValidateDefinition checks the structural soundness of a schema
// definition. It recurses into properties, items, and schema-valued
// additionalProperties. Keywords outside the subset are ignored.
func ValidateDefinition(def any) []Issue {
	var issues []Issue
	validateDefinitionAt(def, "$", &issues)
	return issues
}

func validateDefinitionAt(def any, path string, issues *[]Issue) {
	node, ok := def.(map[string]any)
	if !ok {
		*issues = append(*issues, Issue{Path: path, Message: "Schema must be an object"})
		return
	}

	if raw, present := node["type"]; present {
		t, ok := raw.(string)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "type must be a string"})
		} else if !validTypes[t] {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Unknown type %q", t)})
		}
	}

	if raw, present := node["required"]; present {
		items, ok := raw.([]any)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "required must be an array of strings"})
		} else {
			for _, item := range items {
				if _, ok := item.(string); !ok {
					*issues = append(*issues, Issue{Path: path, Message: "required must be an array of strings"})
					break
				}
			}
		}
	}

	if raw, present := node["properties"]; present {
		props, ok := raw.(map[string]any)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Message: "properties must be an object of schemas"})
		} else {
			for name, sub := range props {
				validateDefinitionAt(sub, path+".properties."+name, issues)
			}
		}
	}

	if raw, present := node["additionalProperties"]; present {
		switch v := raw.(type) {
		case bool:
			// allowed
		case map[string]any:
			validateDefinitionAt(v, path+".additionalProperties", issues)
		default:
			*issues = append(*issues, Issue{Path: path, Message: "additionalProperties must be a boolean or a schema"})
		}
	}

	if raw, present := node["items"]; present {
		validateDefinitionAt(raw, path+".items", issues)
	}

	for _, kw := range []string{"minimum", "maximum"} {
		if raw, present := node[kw]; present {
			n, ok := asNumber(raw)
			if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
				*issues = append(*issues, Issue{Path: path, Message: kw + " must be a finite number"})
			}
		}
	}

	for _, kw := range []string{"minLength", "maxLength", "minItems", "maxItems"} {
		if raw, present := node[kw]; present {
			n, ok := asNumber(raw)
			if !ok || n != math.Trunc(n) || n < 0 {
				*issues = append(*issues, Issue{Path: path, Message: kw + " must be a non-negative integer"})
			}
		}
	}

	if raw, present := node["enum"]; present {
		if _, ok := raw.([]any); !ok {
			*issues = append(*issues, Issue{Path: path, Message: "enum must be an array"})
		}
	}
}

// ValidateValue checks a decoded JSON value against a schema definition.
// The definition is assumed sound (ValidateDefinition returned empty);
// unsound keywords are skipped rather than reported here.
func ValidateValue(def any, value any) []Issue {
	var issues []Issue
	validateValueAt(def, value, "$", &issues)
	return issues
}

func validateValueAt(def any, value any, path string, issues *[]Issue) {
	node, ok := def.(map[string]any)
	if !ok {
		return
	}

	if raw, present := node["type"]; present {
		if t, ok := raw.(string); ok {
			if !checkType(t, value) {
				*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Value is not of type %s", t)})
				return
			}
		}
	}

	if constVal, present := node["const"]; present {
		if !jsonEqual(constVal, value) {
			*issues = append(*issues, Issue{Path: path, Message: "Value does not match const"})
		}
	}

	if raw, present := node["enum"]; present {
		if allowed, ok := raw.([]any); ok {
			found := false
			for _, candidate := range allowed {
				if jsonEqual(candidate, value) {
					found = true
					break
				}
			}
			if !found {
				*issues = append(*issues, Issue{Path: path, Message: "Value is not one of enum"})
			}
		}
	}

	switch v := value.(type) {
	case string:
		length := len([]rune(v))
		if min, ok := intBound(node, "minLength"); ok && length < min {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("String is shorter than minLength %d", min)})
		}
		if max, ok := intBound(node, "maxLength"); ok && length > max {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("String is longer than maxLength %d", max)})
		}

	case []any:
		if min, ok := intBound(node, "minItems"); ok && len(v) < min {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Array has fewer items than minItems %d", min)})
		}
		if max, ok := intBound(node, "maxItems"); ok && len(v) > max {
			*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Array has more items than maxItems %d", max)})
		}
		if items, present := node["items"]; present {
			for i, elem := range v {
				validateValueAt(items, elem, fmt.Sprintf("%s[%d]", path, i), issues)
			}
		}

	case map[string]any:
		if raw, present := node["required"]; present {
			if names, ok := raw.([]any); ok {
				for _, n := range names {
					name, ok := n.(string)
					if !ok {
						continue
					}
					if _, exists := v[name]; !exists {
						*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Missing required property %q", name)})
					}
				}
			}
		}

		props, _ := node["properties"].(map[string]any)
		for name, sub := range props {
			if child, exists := v[name]; exists {
				validateValueAt(sub, child, path+"."+name, issues)
			}
		}

		if raw, present := node["additionalProperties"]; present {
			switch ap := raw.(type) {
			case bool:
				if !ap {
					for name := range v {
						if _, declared := props[name]; !declared {
							*issues = append(*issues, Issue{Path: path + "." + name, Message: "Property is not allowed"})
						}
					}
				}
			case map[string]any:
				for name, child := range v {
					if _, declared := props[name]; !declared {
						validateValueAt(ap, child, path+"."+name, issues)
					}
				}
			}
		}

	default:
		if n, ok := asNumber(value); ok {
			if raw, present := node["minimum"]; present {
				if min, ok := asNumber(raw); ok && n < min {
					*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Number is less than minimum %v", formatNumber(min))})
				}
			}
			if raw, present := node["maximum"]; present {
				if max, ok := asNumber(raw); ok && n > max {
					*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf("Number is greater than maximum %v", formatNumber(max))})
				}
			}
		}
	}
}

func checkType(t string, value any) bool {
	switch t {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	case "number":
		n, ok := asNumber(value)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0)
	case "integer":
		n, ok := asNumber(value)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0) && n == math.Trunc(n)
	}
	return false
}

// asNumber normalizes the numeric types a decoded or test-constructed
// value can carry. Booleans are never numbers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func intBound(node map[string]any, kw string) (int, bool) {
	raw, present := node[kw]
	if !present {
		return 0, false
	}
	n, ok := asNumber(raw)
	if !ok || n != math.Trunc(n) || n < 0 {
		return 0, false
	}
	return int(n), true
}

// jsonEqual compares two JSON values by canonical serialization, so that
// int(2) and float64(2) compare equal the way JSON sees them.
func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}

// formatNumber prints bounds the way they were written: integral bounds
// without a decimal point.
func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
