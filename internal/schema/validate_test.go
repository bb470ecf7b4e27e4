package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/jsonval"
)

func parse(t *testing.T, s string) jsonval.Value {
	t.Helper()
	v, err := jsonval.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

const validDocument = `{
  "skills_referenced": ["plan", "golang-patterns", "code-review", "go-review"],
  "analysis_type": "code_review",
  "findings": [
    {"category": "error-handling", "description": "identified error handling gaps in Add()", "severity": "medium"}
  ],
  "actions_taken": ["ran go test", "reviewed code"]
}`

func TestValidate_CompliantDocumentHasNoErrors(t *testing.T) {
	errs := Validate(parse(t, validDocument), Default())
	require.Empty(t, errs)
}

func TestValidate_MissingRequiredKeyAtRoot(t *testing.T) {
	doc := parse(t, `{"skills_referenced":["plan"],"analysis_type":"planning","findings":[]}`)

	errs := Validate(doc, Default())

	require.Equal(t, []string{`$: missing required property "actions_taken"`}, errs)
}

func TestValidate_MinItemsProducesOneError(t *testing.T) {
	doc := parse(t, `{"skills_referenced":[],"analysis_type":"planning","findings":[],"actions_taken":["x"]}`)

	errs := Validate(doc, Default())

	require.Equal(t, []string{"$.skills_referenced: expected at least 1 items, got 0"}, errs)
}

func TestValidate_TypeMismatchStopsDescent(t *testing.T) {
	s := parse(t, `{"type":"object","required":["a"],"properties":{"a":{"type":"string"}}}`)

	errs := Validate(parse(t, `["not","an","object"]`), s)

	require.Equal(t, []string{`$: expected type "object", got "array"`}, errs)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	doc := parse(t, `{
	  "skills_referenced": ["plan", ""],
	  "analysis_type": "vibes",
	  "findings": [{"category": "x", "description": "y", "severity": "urgent", "extra": 1}],
	  "actions_taken": "ran go test",
	  "notes": "unexpected"
	}`)

	errs := Validate(doc, Default())

	require.Equal(t, []string{
		`$: unexpected property "notes"`,
		"$.skills_referenced[1]: expected min length 1, got 0",
		`$.analysis_type: expected one of [code_review, security, architecture, orchestration, learning, configuration, planning], got "vibes"`,
		`$.findings[0]: unexpected property "extra"`,
		`$.findings[0].severity: expected one of [low, medium, high, critical], got "urgent"`,
		`$.actions_taken: expected type "array", got "string"`,
	}, errs)
}

func TestValidate_Keywords(t *testing.T) {
	cases := []struct {
		name   string
		schema string
		doc    string
		want   []string
	}{
		{
			name:   "integer rejects fraction",
			schema: `{"type":"integer"}`,
			doc:    `1.5`,
			want:   []string{`$: expected type "integer", got "number"`},
		},
		{
			name:   "integer accepts whole number",
			schema: `{"type":"integer"}`,
			doc:    `7`,
		},
		{
			name:   "max items",
			schema: `{"type":"array","maxItems":1}`,
			doc:    `[1,2,3]`,
			want:   []string{"$: expected at most 1 items, got 3"},
		},
		{
			name:   "max length counts characters",
			schema: `{"maxLength":3}`,
			doc:    `"héllo"`,
			want:   []string{"$: expected max length 3, got 5"},
		},
		{
			name:   "length keywords ignore non-strings",
			schema: `{"minLength":3}`,
			doc:    `[1]`,
		},
		{
			name:   "item keywords ignore non-arrays",
			schema: `{"minItems":3}`,
			doc:    `"ab"`,
		},
		{
			name:   "fractional bound is ignored",
			schema: `{"minItems":1.5}`,
			doc:    `[1]`,
		},
		{
			name:   "negative bound is ignored",
			schema: `{"maxLength":-1}`,
			doc:    `"abc"`,
		},
		{
			name:   "oversized bound is ignored",
			schema: `{"maxItems":1e300}`,
			doc:    `[1,2]`,
		},
		{
			name:   "whole float bound applies",
			schema: `{"minItems":2.0}`,
			doc:    `[1]`,
			want:   []string{"$: expected at least 2 items, got 1"},
		},
		{
			name:   "required checks presence only",
			schema: `{"required":["a"]}`,
			doc:    `{"a":null}`,
		},
		{
			name:   "additional properties needs properties",
			schema: `{"additionalProperties":false}`,
			doc:    `{"a":1}`,
		},
		{
			name:   "null type",
			schema: `{"type":"null"}`,
			doc:    `false`,
			want:   []string{`$: expected type "null", got "boolean"`},
		},
		{
			name:   "unknown type matches",
			schema: `{"type":"date"}`,
			doc:    `"2024-01-01"`,
		},
		{
			name:   "non-object schema is ignored",
			schema: `true`,
			doc:    `{"anything":1}`,
		},
		{
			name:   "nested items path",
			schema: `{"items":{"items":{"type":"string"}}}`,
			doc:    `[["a"],["b",2]]`,
			want:   []string{`$[1][1]: expected type "string", got "number"`},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Validate(parse(t, tc.doc), parse(t, tc.schema))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoad_MissingFileIsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))

	require.Error(t, err)
	require.True(t, failure.Is(err, failure.KindConfiguration))
}

func TestLoad_ReadsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, DefaultBytes(), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.True(t, jsonval.Equal(Default(), s))

	def, err := LoadOrDefault("")
	require.NoError(t, err)
	require.True(t, jsonval.Equal(Default(), def))
}
