package execute

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
)

// DefaultFieldResolver reads the field off the source value. It looks, in
// order, for a map key, a no-argument method and a struct field matched by
// json tag or by name.
func DefaultFieldResolver(ctx context.Context, p ResolveParams) (any, error) {
	return property(p.Source, p.Info.FieldName)
}

// DefaultTypeResolver names the runtime type of value for an abstract type.
//
// A map value may carry a `__typename` key; otherwise the Go type name of
// value must match one of the possible types.
func DefaultTypeResolver(ctx context.Context, value any, schema *ast.Schema, abstractType *ast.Definition) string {
	// First, look for `__typename`.
	if m, ok := value.(map[string]any); ok {
		if typename, ok := m["__typename"].(string); ok {
			return typename
		}
	}

	rt := reflect.TypeOf(value)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil {
		return ""
	}
	for _, def := range schema.GetPossibleTypes(abstractType) {
		if def.Name == rt.Name() {
			return def.Name
		}
	}
	return ""
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func property(source any, name string) (any, error) {
	if isNil(source) {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[name], nil
	}

	rv := reflect.ValueOf(source)
	if method := rv.MethodByName(exportedName(name)); method.IsValid() {
		return callGetter(method, name)
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return v.Interface(), nil
	case reflect.Struct:
		index, ok := structFieldIndex(rv.Type(), name)
		if !ok {
			return nil, nil
		}
		return rv.FieldByIndex(index).Interface(), nil
	default:
		return nil, nil
	}
}

func callGetter(method reflect.Value, name string) (any, error) {
	mt := method.Type()
	if mt.NumIn() != 0 {
		return nil, nil
	}
	switch {
	case mt.NumOut() == 1:
		return method.Call(nil)[0].Interface(), nil
	case mt.NumOut() == 2 && mt.Out(1).Implements(errorType):
		out := method.Call(nil)
		if !out[1].IsNil() {
			return nil, fmt.Errorf("resolve %s: %w", name, out[1].Interface().(error))
		}
		return out[0].Interface(), nil
	default:
		return nil, nil
	}
}

var structFields sync.Map // reflect.Type -> map[string][]int

func structFieldIndex(rt reflect.Type, name string) ([]int, bool) {
	cached, ok := structFields.Load(rt)
	if !ok {
		cached, _ = structFields.LoadOrStore(rt, indexStructFields(rt))
	}
	index, ok := cached.(map[string][]int)[name]
	return index, ok
}

func indexStructFields(rt reflect.Type) map[string][]int {
	fields := make(map[string][]int)
	for _, f := range reflect.VisibleFields(rt) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch tag {
		case "-":
			continue
		case "":
			fields[lowerFirst(f.Name)] = f.Index
		default:
			fields[tag] = f.Index
		}
		if _, ok := fields[f.Name]; !ok {
			fields[f.Name] = f.Index
		}
	}
	return fields
}

func exportedName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func lowerFirst(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// isNil reports nil pointers and maps. A nil slice completes to an empty list.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
