// Package jsonschema derives minimal JSON-Schema-like maps from Go structs.
// The maps feed model.Request.Schema, where providers fold them into the
// prompt, so only the schema vocabulary models reliably follow is emitted.
package jsonschema

import (
	"reflect"
	"strings"
)

// FromStruct builds an object schema from a struct's exported fields. Field
// names come from json tags; fields tagged omitempty or typed as pointers are
// optional, everything else is required. Slices and nested structs recurse
// into items and properties.
func FromStruct(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return fromType(t)
}

func fromType(t reflect.Type) map[string]any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return objectSchema(t)
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": fromType(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object"}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	default:
		return map[string]any{"type": "string"}
	}
}

func objectSchema(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		parts := strings.Split(field.Tag.Get("json"), ",")
		if parts[0] == "-" {
			continue
		}
		name := field.Name
		if parts[0] != "" {
			name = parts[0]
		}

		schema := fromType(field.Type)
		if description := field.Tag.Get("description"); description != "" {
			schema["description"] = description
		}
		properties[name] = schema

		if !hasOmitEmpty(parts) && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// hasOmitEmpty checks if a json tag carries the "omitempty" option.
func hasOmitEmpty(parts []string) bool {
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}
