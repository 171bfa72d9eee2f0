package tools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateNoSchemaAcceptsAnything(t *testing.T) {
	err := Validate(Spec{Name: "no_schema"}, []byte(`{"anything":true}`))
	require.NoError(t, err)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	spec := Spec{Name: "t", PayloadSchema: []byte(`{"type":"object"}`)}
	err := Validate(spec, []byte(`not json`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateEnforcesRequiredFields(t *testing.T) {
	spec := Spec{
		Name: "spawn_worker",
		PayloadSchema: []byte(`{
			"type": "object",
			"properties": {"task": {"type": "string"}},
			"required": ["task"]
		}`),
	}

	err := Validate(spec, []byte(`{}`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, Ident("spawn_worker"), verr.Tool)

	err = Validate(spec, []byte(`{"task":"do the thing"}`))
	require.NoError(t, err)
}

func TestValidateEnforcesTypeConstraint(t *testing.T) {
	spec := Spec{
		Name:          "t",
		PayloadSchema: []byte(`{"type":"object","properties":{"n":{"type":"integer"}}}`),
	}
	err := Validate(spec, []byte(`{"n": "not a number"}`))
	require.Error(t, err)
}
