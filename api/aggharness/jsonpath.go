package aggharness

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LookupPath resolves a dot-separated sub-field path, the same form
// SelectBySubfield accepts, against doc. Only objects are descended; a path
// that runs into an array or a scalar before its last segment is not found.
func LookupPath(doc Document, path string) (any, bool) {
	var node any = doc
	for _, key := range pathSegments(path) {
		obj, isObject := node.(map[string]any)
		if !isObject {
			return nil, false
		}
		child, found := obj[key]
		if !found {
			return nil, false
		}
		node = child
	}
	return node, true
}

// MatchesValue reports whether the value at path equals want, using the
// same comparison a `path = 'want'` predicate would: strings compare as
// text, numbers by decimal value, booleans by their literal.
func MatchesValue(doc Document, path, want string) bool {
	val, ok := LookupPath(doc, path)
	if !ok {
		return false
	}

	switch v := val.(type) {
	case string:
		return v == want
	case bool:
		return fmt.Sprintf("%t", v) == want
	case nil:
		return false
	case map[string]any, []any:
		return false
	}

	got, ok := toDecimal(val)
	if !ok {
		return fmt.Sprintf("%v", val) == want
	}
	w, err := decimal.NewFromString(want)
	if err != nil {
		return false
	}
	return got.Equal(w)
}

// validSubfieldPath reports whether every segment of path is a plain identifier.
func validSubfieldPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range pathSegments(path) {
		if !isIdent(seg) {
			return false
		}
	}
	return true
}

func pathSegments(path string) []string {
	return strings.Split(path, ".")
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
