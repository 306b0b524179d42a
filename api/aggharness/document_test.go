package aggharness

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument(`{"fizz":"buzz","n":12345678901234567890.5,"nested":{"a":[1,true,null]}}`)
	require.NoError(t, err)
	require.Equal(t, "buzz", doc["fizz"])
	require.Equal(t, json.Number("12345678901234567890.5"), doc["n"])

	_, err = DecodeDocument(`  {"a":1}  `)
	require.NoError(t, err, "surrounding whitespace is not trailing data")

	for _, bad := range []string{"", "{", `{"a":1}x`, `"str"`, "42", "null"} {
		_, err := DecodeDocument(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestEncodeDocument(t *testing.T) {
	text, err := EncodeDocument(Document{"foo": "bar", "fizz": "buzz"})
	require.NoError(t, err)

	doc, err := DecodeDocument(text)
	require.NoError(t, err)
	require.True(t, EqualDocuments(Document{"fizz": "buzz", "foo": "bar"}, doc))

	_, err = EncodeDocument(nil)
	require.ErrorIs(t, err, errNotObject)
}

func TestEqualDocuments(t *testing.T) {
	decode := func(s string) Document {
		d, err := DecodeDocument(s)
		require.NoError(t, err)
		return d
	}

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"key_order", `{"fizz":"buzz","foo":"bar"}`, `{"foo":"bar","fizz":"buzz"}`, true},
		{"number_forms", `{"n":1}`, `{"n":1.0}`, true},
		{"exponent", `{"n":100}`, `{"n":1e2}`, true},
		{"big_numbers_differ", `{"n":12345678901234567890}`, `{"n":12345678901234567891}`, false},
		{"nested", `{"a":{"b":[1,"x",{"c":null}]}}`, `{"a":{"b":[1,"x",{"c":null}]}}`, true},
		{"array_order", `{"a":[1,2]}`, `{"a":[2,1]}`, false},
		{"missing_key", `{"a":1,"b":2}`, `{"a":1,"c":2}`, false},
		{"extra_key", `{"a":1}`, `{"a":1,"b":2}`, false},
		{"string_vs_number", `{"a":"1"}`, `{"a":1}`, false},
		{"bool", `{"a":true}`, `{"a":false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EqualDocuments(decode(tt.a), decode(tt.b)))
			require.Equal(t, tt.want, EqualDocuments(decode(tt.b), decode(tt.a)))
		})
	}

	require.True(t, EqualDocuments(decode(`{"n":3}`), Document{"n": int64(3)}))
}

func TestLookupPath(t *testing.T) {
	doc, err := DecodeDocument(`{"fizz":"buzz","user":{"address":{"city":"Oslo"}},"list":[1]}`)
	require.NoError(t, err)

	v, ok := LookupPath(doc, "fizz")
	require.True(t, ok)
	require.Equal(t, "buzz", v)

	v, ok = LookupPath(doc, "user.address.city")
	require.True(t, ok)
	require.Equal(t, "Oslo", v)

	_, ok = LookupPath(doc, "user.zip")
	require.False(t, ok)

	_, ok = LookupPath(doc, "fizz.deeper")
	require.False(t, ok)

	_, ok = LookupPath(doc, "list.0")
	require.False(t, ok)

	v, ok = LookupPath(doc, "list")
	require.True(t, ok, "a path may end on an array")
	require.Len(t, v, 1)
}

func TestMatchesValue(t *testing.T) {
	doc, err := DecodeDocument(`{"fizz":"buzz","n":1.50,"ok":true,"none":null,"obj":{"a":1},"arr":[1]}`)
	require.NoError(t, err)

	tests := []struct {
		path, want string
		match      bool
	}{
		{"fizz", "buzz", true},
		{"fizz", "bar", false},
		{"n", "1.5", true},
		{"n", "1.50", true},
		{"n", "2", false},
		{"n", "abc", false},
		{"ok", "true", true},
		{"ok", "false", false},
		{"none", "", false},
		{"obj", `{"a":1}`, false},
		{"arr", "[1]", false},
		{"missing", "buzz", false},
		{"obj.a", "1", true},
	}

	for _, tt := range tests {
		require.Equal(t, tt.match, MatchesValue(doc, tt.path, tt.want), "%s = %q", tt.path, tt.want)
	}
}

func TestDocumentValidator(t *testing.T) {
	var nilValidator *DocumentValidator
	require.NoError(t, nilValidator.Validate(`{"anything":1}`))

	v, err := NewDocumentValidatorFromString(`{
		"type": "object",
		"required": ["fizz"],
		"properties": {"fizz": {"type": "string"}}
	}`)
	require.NoError(t, err)

	require.NoError(t, v.Validate(`{"fizz":"buzz","foo":"bar"}`))

	err = v.Validate(`{"fizz":1}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not match schema")

	_, err = NewDocumentValidatorFromString(`{"type": 12}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), LOC_DOC_SCHEMA)
}

func TestNewDocumentValidator_File(t *testing.T) {
	_, err := NewDocumentValidator(t.TempDir() + "/missing.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), LOC_DOC_SCHEMA)
}
