package aggharness

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

// Location codes for document handling
const (
	LOC_DOC_SCHEMA   = "AGV_DOC_001"
	LOC_DOC_VALIDATE = "AGV_DOC_002"
)

// Document is a decoded event_data value. Numbers are kept as json.Number so
// that a round trip through the store can be compared digit for digit.
type Document = map[string]any

var (
	errNotObject   = errors.New("event_data must be a JSON object")
	errLossyNumber = errors.New("number cannot be sent natively without losing precision")
)

// EncodeDocument serializes doc to compact JSON text.
func EncodeDocument(doc Document) (string, error) {
	if doc == nil {
		return "", errNotObject
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDocument parses text as a single JSON object.
func DecodeDocument(text string) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, errors.New("malformed JSON: trailing data after document")
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return doc, nil
}

// EqualDocuments compares two decoded values ignoring object key order.
// Numbers compare by decimal value, so 1, 1.0 and 1e0 are equal.
func EqualDocuments(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !EqualDocuments(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualDocuments(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	if ad, ok := toDecimal(a); ok {
		bd, ok := toDecimal(b)
		return ok && ad.Equal(bd)
	}
	return a == b
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	}
	return decimal.Decimal{}, false
}

// nativeValue converts json.Number leaves into int64, uint64 or float64 so
// the driver can bind the document as a native JSON value. A number that no
// Go numeric type holds exactly is an error.
func nativeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			conv, err := nativeValue(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			conv, err := nativeValue(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case json.Number:
		return nativeNumber(x)
	default:
		return v, nil
	}
}

func nativeNumber(n json.Number) (any, error) {
	text := n.String()
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(text, 10, 64); err == nil {
		return u, nil
	}

	exact, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid number %s: %w", text, err)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || !decimal.NewFromFloat(f).Equal(exact) {
		return nil, fmt.Errorf("%w: %s", errLossyNumber, text)
	}
	return f, nil
}

// DocumentValidator checks event_data text against a JSON schema.
type DocumentValidator struct {
	schema *gojsonschema.Schema
}

// NewDocumentValidator loads a JSON schema file.
func NewDocumentValidator(path string) (*DocumentValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + path))
	if err != nil {
		return nil, fmt.Errorf("failed to load event_data schema %s: %w (%s)", path, err, LOC_DOC_SCHEMA)
	}
	return &DocumentValidator{schema: schema}, nil
}

// NewDocumentValidatorFromString compiles an inline JSON schema.
func NewDocumentValidatorFromString(schemaJSON string) (*DocumentValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile event_data schema: %w (%s)", err, LOC_DOC_SCHEMA)
	}
	return &DocumentValidator{schema: schema}, nil
}

// Validate returns nil when text satisfies the schema. A nil validator
// accepts everything.
func (v *DocumentValidator) Validate(text string) error {
	if v == nil {
		return nil
	}
	result, err := v.schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w (%s)", err, LOC_DOC_VALIDATE)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	sort.Strings(msgs)

	return fmt.Errorf("document does not match schema: %s", strings.Join(msgs, "; "))
}
