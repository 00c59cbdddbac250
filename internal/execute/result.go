package execute

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// resultObject writes its keys in selection order.
type resultObject struct {
	keys   []string
	values []graphql.Marshaler
}

func newResultObject(keys []string) *resultObject {
	return &resultObject{
		keys:   keys,
		values: make([]graphql.Marshaler, len(keys)),
	}
}

func (o *resultObject) MarshalGQL(w io.Writer) {
	_, _ = io.WriteString(w, "{")
	for i, key := range o.keys {
		if i != 0 {
			_, _ = io.WriteString(w, ",")
		}
		graphql.MarshalString(key).MarshalGQL(w)
		_, _ = io.WriteString(w, ":")
		if o.values[i] == nil {
			graphql.Null.MarshalGQL(w)
			continue
		}
		o.values[i].MarshalGQL(w)
	}
	_, _ = io.WriteString(w, "}")
}

// Complete a Scalar or Enum by serializing to a valid value, returning an
// error if serialization is not possible.
func completeLeafValue(def *ast.Definition, fieldNode *ast.Field, path ast.Path, result any) (graphql.Marshaler, *gqlerror.Error) {
	if m, ok := result.(graphql.Marshaler); ok {
		return m, nil
	}

	rv := reflect.ValueOf(result)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return graphql.Null, nil
		}
		rv = rv.Elem()
	}

	serialized, err := serializeLeaf(def, rv)
	if err != nil {
		return nil, locatedErrorf(fieldNode, path, "%s", err.Error())
	}
	return serialized, nil
}

func serializeLeaf(def *ast.Definition, rv reflect.Value) (graphql.Marshaler, error) {
	if def.Kind == ast.Enum {
		s, ok := stringOf(rv)
		if !ok || def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("enum %q cannot represent value: %v", def.Name, rv.Interface())
		}
		return graphql.MarshalString(s), nil
	}

	switch def.Name {
	case "Int":
		n, ok := intOf(rv)
		if !ok || n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent value: %v", rv.Interface())
		}
		return graphql.MarshalInt64(n), nil
	case "Float":
		if f, ok := floatOf(rv); ok {
			return graphql.MarshalFloat(f), nil
		}
		return nil, fmt.Errorf("Float cannot represent value: %v", rv.Interface())
	case "String":
		if s, ok := stringOf(rv); ok {
			return graphql.MarshalString(s), nil
		}
		return nil, fmt.Errorf("String cannot represent value: %v", rv.Interface())
	case "Boolean":
		if rv.Kind() == reflect.Bool {
			return graphql.MarshalBoolean(rv.Bool()), nil
		}
		return nil, fmt.Errorf("Boolean cannot represent value: %v", rv.Interface())
	case "ID":
		if s, ok := stringOf(rv); ok {
			return graphql.MarshalString(s), nil
		}
		if n, ok := intOf(rv); ok {
			return graphql.MarshalString(fmt.Sprint(n)), nil
		}
		return nil, fmt.Errorf("ID cannot represent value: %v", rv.Interface())
	default:
		// Custom scalars serialize as their JSON form.
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%s cannot represent value: %w", def.Name, err)
		}
		return graphql.WriterFunc(func(w io.Writer) {
			_, _ = w.Write(b)
		}), nil
	}
}

func stringOf(rv reflect.Value) (string, bool) {
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if rv.CanInterface() {
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			return s.String(), true
		}
	}
	return "", false
}

func intOf(rv reflect.Value) (int64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	if n, ok := rv.Interface().(json.Number); ok {
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func floatOf(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	if n, ok := rv.Interface().(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
