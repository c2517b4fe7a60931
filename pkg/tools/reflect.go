package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	stringType  = reflect.TypeOf("")
)

// RegisterFunc registers fn as a tool, deriving the parameter schema from
// its argument struct. fn must have the shape
//
//	func(ctx context.Context, args T) (string, error)
//
// where T is a struct. Field names come from json tags, descriptions from
// desc tags, and a field is optional when its json tag carries omitempty or
// its type is a pointer. Field kinds map onto schema types; anything
// unrecognized becomes an unconstrained schema entry.
func (r *Registry) RegisterFunc(name, description string, fn interface{}) error {
	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()

	if err := checkFuncShape(fnType); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	argType := fnType.In(1)
	params := paramsFromStruct(argType)

	handler := func(ctx context.Context, args map[string]interface{}) (string, error) {
		data, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("encode arguments: %w", err)
		}
		argValue := reflect.New(argType)
		if err := json.Unmarshal(data, argValue.Interface()); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}

		results := fnValue.Call([]reflect.Value{reflect.ValueOf(ctx), argValue.Elem()})
		if !results[1].IsNil() {
			return "", results[1].Interface().(error)
		}
		return results[0].String(), nil
	}

	return r.Register(ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Handler:     handler,
	})
}

func checkFuncShape(t reflect.Type) error {
	if t.Kind() != reflect.Func {
		return fmt.Errorf("fn must be a function, got %s", t.Kind())
	}
	if t.NumIn() != 2 || !t.In(0).Implements(contextType) && t.In(0) != contextType {
		return fmt.Errorf("fn must take (context.Context, args struct)")
	}
	if t.In(1).Kind() != reflect.Struct {
		return fmt.Errorf("args parameter must be a struct, got %s", t.In(1).Kind())
	}
	if t.NumOut() != 2 || t.Out(0) != stringType || t.Out(1) != errorType {
		return fmt.Errorf("fn must return (string, error)")
	}
	return nil
}

func paramsFromStruct(t reflect.Type) []ToolParameter {
	params := make([]ToolParameter, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		optional := false
		if tag := field.Tag.Get("json"); tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
		}

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			optional = true
			fieldType = fieldType.Elem()
		}

		params = append(params, ToolParameter{
			Name:        name,
			Type:        schemaType(fieldType.Kind()),
			Description: field.Tag.Get("desc"),
			Required:    !optional,
		})
	}
	return params
}

// schemaType maps a Go kind onto its JSON-Schema type. Kinds outside the
// recognized primitive set yield "", an unconstrained entry.
func schemaType(kind reflect.Kind) string {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return ""
	}
}
