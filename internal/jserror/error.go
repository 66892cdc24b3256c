package jserror

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Error is a well-formed JavaScript Error value as seen by the Go host.
// It is the only error shape the crash pipeline constructs internally.
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// New synthesizes an Error the way `new Error(message)` would, without a stack.
func New(message string) *Error {
	return &Error{
		Name:    "Error",
		Message: message,
	}
}

// FromString rebuilds an Error from the "Name: message" text a runtime
// reports when it only hands back strings. Text without a recognizable name
// becomes the message of a plain Error.
func FromString(text, stack string) *Error {
	text = strings.TrimPrefix(text, "Uncaught ")
	name, message, ok := strings.Cut(text, ": ")
	if !ok || !isIdentifier(name) {
		return &Error{Name: "Error", Message: text, Stack: stack}
	}
	return &Error{Name: name, Message: message, Stack: stack}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}

// Error implements the error interface using the `Name: message` convention
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Kind classifies an arbitrary value arriving at the pipeline boundary
type Kind int

const (
	// KindOther is anything that is not Error-capable (strings, numbers, plain objects, nil)
	KindOther Kind = iota
	// KindError is a value carrying a *Error
	KindError
)

func (k Kind) String() string {
	if k == KindError {
		return "error"
	}
	return "other"
}

// Classify reports whether v is Error-capable.
func Classify(v any) Kind {
	if _, ok := As(v); ok {
		return KindError
	}
	return KindOther
}

// As extracts the *Error carried by v, unwrapping Go error chains.
func As(v any) (*Error, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case *Error:
		return val, val != nil
	case error:
		var jsErr *Error
		if errors.As(val, &jsErr) && jsErr != nil {
			return jsErr, true
		}
	}
	return nil, false
}

// Stringify converts v to text the way JavaScript's String(v) would for
// the kinds of values that reach the host from a guest runtime.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(val)
	case json.Number:
		return val.String()
	case map[string]any:
		return "[object Object]"
	case []any:
		parts := make([]byte, 0, len(val)*4)
		for i, item := range val {
			if i > 0 {
				parts = append(parts, ',')
			}
			parts = append(parts, Stringify(item)...)
		}
		return string(parts)
	default:
		return fmt.Sprint(val)
	}
}

// formatNumber follows JavaScript's Number::toString: plain decimals between
// 1e-6 and 1e21, exponent form outside that range.
func formatNumber(val float64) string {
	switch {
	case math.IsNaN(val):
		return "NaN"
	case math.IsInf(val, 1):
		return "Infinity"
	case math.IsInf(val, -1):
		return "-Infinity"
	case val == 0:
		return "0"
	}

	abs := math.Abs(val)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(val, 'f', -1, 64)
	}

	// Go writes "1e-07"; JavaScript writes "1e-7"
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(val, 'e', -1, 64), "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + exp
}
