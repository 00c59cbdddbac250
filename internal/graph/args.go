package graph

import (
	"encoding/json"
	"fmt"
	"math"
)

// Argument maps hold literal values as parsed by gqlparser and variables as
// decoded by the transport, so numbers arrive as int64, float64 or
// json.Number depending on where they came from.

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func optionalStringArg(args map[string]any, name string) *string {
	s, ok := args[name].(string)
	if !ok {
		return nil
	}
	return &s
}

func intArg(args map[string]any, name string) (int, error) {
	n, err := toInt(args[name])
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", name, err)
	}
	return n, nil
}

func optionalIntArg(args map[string]any, name string) (*int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("argument %s: %w", name, err)
	}
	return &n, nil
}

func stringsArg(args map[string]any, name string) ([]string, error) {
	switch v := args[name].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %s[%d]: expected string, got %T", name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %s: expected list, got %T", name, v)
	}
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("%d overflows Int", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("%v is not an Int", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return toInt(n)
	default:
		return 0, fmt.Errorf("expected Int, got %T", v)
	}
}
