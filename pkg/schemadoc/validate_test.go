package schemadoc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, raw string) *Validator {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	v, err := Compile(doc)
	require.NoError(t, err)
	return v
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestValidate(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"power":   {"type": "number", "minimum": 0, "maximum": 1000},
			"voltage": {"type": "integer", "enum": [220, 380]},
			"label":   {"type": "string", "minLength": 2, "maxLength": 5, "pattern": "^[A-Z]+$"},
			"tags":    {"type": "array", "items": {"type": "string"}, "maxItems": 2},
			"motor":   {"type": "object", "required": ["rpm"], "properties": {"rpm": {"type": "number"}}}
		},
		"required": ["power"],
		"additionalProperties": false
	}`
	v := mustCompile(t, schema)

	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "valid payload",
			payload: `{"power": 10, "voltage": 220, "label": "AB", "tags": ["x"], "motor": {"rpm": 1500}}`,
			want:    nil,
		},
		{
			name:    "missing required",
			payload: `{}`,
			want:    []string{"root: 'power' is a required property"},
		},
		{
			name:    "wrong root type",
			payload: `[1, 2]`,
			want:    []string{"root: [1,2] is not of type 'object'"},
		},
		{
			name:    "wrong property type",
			payload: `{"power": "high"}`,
			want:    []string{"power: 'high' is not of type 'number'"},
		},
		{
			name:    "numeric bounds",
			payload: `{"power": -1}`,
			want:    []string{"power: -1 is less than the minimum of 0"},
		},
		{
			name:    "integer and enum",
			payload: `{"power": 1, "voltage": 110}`,
			want:    []string{"voltage: 110 is not one of [220,380]"},
		},
		{
			name:    "non-integer number",
			payload: `{"power": 1, "voltage": 220.5}`,
			want:    []string{"voltage: 220.5 is not of type 'integer'"},
		},
		{
			name:    "string constraints",
			payload: `{"power": 1, "label": "abcdef"}`,
			want: []string{
				"label: 'abcdef' is too long",
				"label: 'abcdef' does not match '^[A-Z]+$'",
			},
		},
		{
			name:    "array items and size",
			payload: `{"power": 1, "tags": ["a", 2, "c"]}`,
			want: []string{
				`tags: ["a",2,"c"] is too long`,
				"tags.1: 2 is not of type 'string'",
			},
		},
		{
			name:    "nested required",
			payload: `{"power": 1, "motor": {}}`,
			want:    []string{"motor: 'rpm' is a required property"},
		},
		{
			name:    "additional properties",
			payload: `{"power": 1, "zeta": 1, "alpha": 2}`,
			want:    []string{"root: Additional properties are not allowed ('alpha', 'zeta' were unexpected)"},
		},
		{
			name:    "all violations collected",
			payload: `{"voltage": "x", "extra": true}`,
			want: []string{
				"root: 'power' is a required property",
				"voltage: 'x' is not of type 'integer'",
				"root: Additional properties are not allowed ('extra' was unexpected)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(decode(t, tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_IsDeterministic(t *testing.T) {
	v := mustCompile(t, `{"properties": {
		"a": {"type": "string"}, "b": {"type": "string"}, "c": {"type": "string"}, "d": {"type": "string"}
	}}`)
	payload := decode(t, `{"d": 1, "c": 2, "b": 3, "a": 4}`)

	first := v.Validate(payload)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, v.Validate(payload))
	}
	assert.Equal(t, "a: 4 is not of type 'string'", first[0])
}

func TestValidate_AdditionalPropertiesSchema(t *testing.T) {
	v := mustCompile(t, `{"type": "object", "additionalProperties": {"type": "number"}}`)

	assert.Empty(t, v.Validate(decode(t, `{"x": 1}`)))
	assert.Equal(t, []string{"x: 'y' is not of type 'number'"}, v.Validate(decode(t, `{"x": "y"}`)))
}

func TestValidate_GoNativeValues(t *testing.T) {
	v := mustCompile(t, `{"properties": {"count": {"type": "integer", "minimum": 1}}}`)

	assert.Empty(t, v.Validate(map[string]any{"count": 3}))
	assert.Equal(t, []string{"count: 0 is less than the minimum of 1"}, v.Validate(map[string]any{"count": int64(0)}))
}

func TestValidate_BooleanSubschemas(t *testing.T) {
	v := mustCompile(t, `{"properties": {"open": true, "closed": false}}`)

	assert.Empty(t, v.Validate(decode(t, `{"open": [1, {"a": null}]}`)))
	assert.Equal(t, []string{"closed: False schema does not allow 1"}, v.Validate(decode(t, `{"closed": 1}`)))
}

func TestCompile_RejectsMalformedKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type": "decimal"}`},
		{"non-list required", `{"required": "power"}`},
		{"non-object properties", `{"properties": []}`},
		{"negative length", `{"minLength": -1}`},
		{"bad pattern", `{"pattern": "("}`},
		{"non-numeric minimum", `{"minimum": "0"}`},
		{"nested failure", `{"properties": {"p": {"type": 5}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Document
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &doc))
			_, err := Compile(doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchema))
		})
	}
}

func TestCompile_IgnoresUnknownKeywords(t *testing.T) {
	v := mustCompile(t, `{"title": "Motor", "description": "x", "x-ui": {"widget": "slider"}}`)

	assert.Empty(t, v.Validate(decode(t, `{"anything": 1}`)))
}

func TestFingerprint(t *testing.T) {
	var a, b Document
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1, "b": {"c": [1, 2]}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"b": {"c": [1, 2]}, "a": 1}`), &b))

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(Document{"a": 2}))
}
