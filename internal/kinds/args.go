package kinds

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrBadValue is returned when positional data does not have the shape
// a kind expects
var ErrBadValue = errors.New("bad value")

func errArgs(want, got int) error {
	return fmt.Errorf("%w: expected %d arguments, got %d", ErrBadValue, want, got)
}

func stringArg(v any, what string) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrBadValue, what, v)
	}
}

func boolArg(v any, what string) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s must be a bool, got %T", ErrBadValue, what, v)
	}
}

// stringsArg accepts []string or a decoded []any of strings
func stringsArg(v any, what string) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings, got %T in it", ErrBadValue, what, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrBadValue, what, v)
	}
}

// anyStrings converts to the []any form positional data is stored in
func anyStrings(l []string) []any {
	out := make([]any, len(l))
	for i, s := range l {
		out[i] = s
	}
	return out
}

// toInt64 coerces the numeric shapes positional data arrives in. Data
// decoded from JSON carries float64 for every number.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < -1<<63 || n >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func intArg(v any, what string) (int64, error) {
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrBadValue, what, v)
	}
	return n, nil
}

// normalizeValue converts an attribute value to the Go type of its
// attribute type: text is string, int is int64, bool is bool and binary
// is []byte. Binary values that went through JSON arrive base64 encoded.
func normalizeValue(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeText:
		return stringArg(v, "text value")
	case TypeInt:
		return intArg(v, "int value")
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: bool value must be a bool, got %T", ErrBadValue, v)
		}
		return b, nil
	case TypeBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("%w: binary value: %v", ErrBadValue, err)
			}
			return raw, nil
		}
		return nil, fmt.Errorf("%w: binary value must be bytes, got %T", ErrBadValue, v)
	default:
		return nil, fmt.Errorf("%w: unknown attribute type %q", ErrBadValue, typ)
	}
}
