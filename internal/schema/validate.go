// Package schema validates JSON documents against a small subset of JSON Schema: type,
// enum, minItems/maxItems, minLength/maxLength, required, properties,
// additionalProperties: false, and items.
//
// Validation never fails on malformed input. Every violation is returned as a
// human-readable string naming the document path (`$`, `$.key`, `$.list[0]`).
package schema

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/codalotl/agentconform/internal/jsonval"
)

// Root is the path of the document root.
const Root = "$"

// Validate returns all violations of value against schema. An empty result means the
// document is compliant. A schema node that is not an object imposes no constraints.
func Validate(value, schema jsonval.Value) []string {
	return validateAt(value, schema, Root)
}

func validateAt(value, schema jsonval.Value, path string) []string {
	if !schema.IsObject() {
		return nil
	}
	var errs []string

	if typ, ok := schema.Get("type"); ok {
		if expected, isStr := typ.Str(); isStr && !matchesType(value, expected) {
			// A value of the wrong basic type gets no further structural checks.
			return append(errs, fmt.Sprintf("%s: expected type %q, got %q", path, expected, inferType(value)))
		}
	}

	if enum, ok := schema.Get("enum"); ok && enum.IsArray() && enum.Len() > 0 {
		if !inEnum(value, enum) {
			errs = append(errs, fmt.Sprintf("%s: expected one of [%s], got %q", path, enumList(enum), value.Text()))
		}
	}

	if value.IsArray() {
		if n, ok := intKeyword(schema, "minItems"); ok && value.Len() < n {
			errs = append(errs, fmt.Sprintf("%s: expected at least %d items, got %d", path, n, value.Len()))
		}
		if n, ok := intKeyword(schema, "maxItems"); ok && value.Len() > n {
			errs = append(errs, fmt.Sprintf("%s: expected at most %d items, got %d", path, n, value.Len()))
		}
	}

	if s, isStr := value.Str(); isStr {
		length := utf8.RuneCountInString(s)
		if n, ok := intKeyword(schema, "minLength"); ok && length < n {
			errs = append(errs, fmt.Sprintf("%s: expected min length %d, got %d", path, n, length))
		}
		if n, ok := intKeyword(schema, "maxLength"); ok && length > n {
			errs = append(errs, fmt.Sprintf("%s: expected max length %d, got %d", path, n, length))
		}
	}

	if value.IsObject() {
		errs = append(errs, objectErrors(value, schema, path)...)
	}

	if items, ok := schema.Get("items"); ok && value.IsArray() {
		for i, item := range value.Items() {
			errs = append(errs, validateAt(item, items, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}

	return errs
}

func objectErrors(value, schema jsonval.Value, path string) []string {
	var errs []string
	if required, ok := schema.Get("required"); ok && required.IsArray() {
		for _, key := range required.Items() {
			name := key.Text()
			if !value.Has(name) {
				errs = append(errs, fmt.Sprintf("%s: missing required property %q", path, name))
			}
		}
	}

	props, hasProps := schema.Get("properties")
	hasProps = hasProps && props.IsObject()

	if additional, ok := schema.Get("additionalProperties"); ok && hasProps {
		if allowed, isBool := additional.Bool(); isBool && !allowed {
			for _, key := range value.Keys() {
				if !props.Has(key) {
					errs = append(errs, fmt.Sprintf("%s: unexpected property %q", path, key))
				}
			}
		}
	}

	if hasProps {
		for _, prop := range props.Fields() {
			child, ok := value.Get(prop.Key)
			if !ok {
				continue
			}
			errs = append(errs, validateAt(child, prop.Value, path+"."+prop.Key)...)
		}
	}
	return errs
}

// matchesType reports whether value has the named JSON Schema type. Unknown type names
// match anything.
func matchesType(value jsonval.Value, expected string) bool {
	switch expected {
	case "array":
		return value.IsArray()
	case "object":
		return value.IsObject()
	case "integer":
		return value.IsInteger()
	case "number":
		return value.IsNumber()
	case "null":
		return value.IsNull()
	case "string":
		return value.IsString()
	case "boolean":
		return value.Kind() == jsonval.Bool
	default:
		return true
	}
}

func inferType(value jsonval.Value) string {
	return value.Kind().String()
}

func inEnum(value, enum jsonval.Value) bool {
	for _, allowed := range enum.Items() {
		if jsonval.Equal(value, allowed) {
			return true
		}
	}
	return false
}

func enumList(enum jsonval.Value) string {
	items := enum.Items()
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.Text()
	}
	return strings.Join(parts, ", ")
}

// intKeyword reads a non-negative integer bound. Fractional, negative, or oversized values
// are not valid bounds and are ignored.
func intKeyword(schema jsonval.Value, keyword string) (int, bool) {
	v, ok := schema.Get(keyword)
	if !ok {
		return 0, false
	}
	f, isNum := v.Float()
	if !isNum || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
