package toolcall

import "strings"

// IsValidFunctionCallResponse reports whether v is a well-formed tool
// invocation: an object with exactly the keys name (non-empty string)
// and arguments (object), where every argument value is a scalar.
func IsValidFunctionCallResponse(v map[string]any) bool {
	args, ok := callShape(v)
	if !ok {
		return false
	}
	for _, val := range args {
		if !isScalar(val) {
			return false
		}
	}
	return true
}

// IsComplexVectorSearch relaxes the scalar rule for MongoDB-style filter
// expressions: an argument value may be an object whose keys are all
// operators (prefixed $) with scalar or operator-object values. Lists
// are rejected everywhere.
func IsComplexVectorSearch(v map[string]any) bool {
	args, ok := callShape(v)
	if !ok {
		return false
	}
	for _, val := range args {
		if isScalar(val) {
			continue
		}
		obj, ok := val.(map[string]any)
		if !ok || !isOperatorObject(obj) {
			return false
		}
	}
	return true
}

// callShape checks the {name, arguments} envelope and returns arguments.
func callShape(v map[string]any) (map[string]any, bool) {
	if len(v) != 2 {
		return nil, false
	}
	name, ok := v["name"].(string)
	if !ok || name == "" {
		return nil, false
	}
	args, ok := v["arguments"].(map[string]any)
	if !ok {
		return nil, false
	}
	return args, true
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool, nil:
		return true
	}
	return false
}

// isOperatorObject requires every key at this nesting level to be a
// $-prefixed operator with a scalar or operator-object value.
func isOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k, v := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
		switch v := v.(type) {
		case map[string]any:
			if !isOperatorObject(v) {
				return false
			}
		case []any:
			return false
		default:
			if !isScalar(v) {
				return false
			}
		}
	}
	return true
}
