package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/pkg/schema"
)

func newValidator(t *testing.T) *RequestValidator {
	t.Helper()
	v, err := NewRequestValidator()
	require.NoError(t, err)
	return v
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	v, _ := fe.Details["violations"].([]string)
	return v
}

func TestValidate_SaveFlow(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(SchemaSaveFlow, []byte(`{
		"name": "my flow",
		"nodes": [{"id": "a", "type": "input", "position": {"x": 1, "y": 2}, "data": {"label": "A", "status": "idle"}}],
		"edges": [],
		"viewport": {"x": 0, "y": 0, "zoom": 1}
	}`)))

	err := v.Validate(SchemaSaveFlow, []byte(`{"nodes": [], "edges": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	err = v.Validate(SchemaSaveFlow, []byte(`{"name": "x", "nodes": [{"data": {}}], "edges": [{"id": "e"}]}`))
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(violations(t, err)), 2)

	require.NoError(t, v.Validate(SchemaSaveFlow, []byte(`{"name": "x", "nodes": [], "edges": [], "viewport": {"x": 0, "y": 0, "zoom": 0}}`)),
		"a zero viewport is what clients send when none is known")

	err = v.Validate(SchemaSaveFlow, []byte(`{"name": "x", "nodes": [], "edges": [], "viewport": {"zoom": -1}}`))
	require.Error(t, err)
}

func TestValidate_ExecuteFlow(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.Validate(SchemaExecuteFlow, []byte(`{"nodes": [], "edges": [], "workspaceSettings": null}`)))
	assert.Error(t, v.Validate(SchemaExecuteFlow, []byte(`{"nodes": []}`)))
	assert.Error(t, v.Validate(SchemaExecuteFlow, []byte(`[]`)))
}

func TestValidate_Flowdir(t *testing.T) {
	v := newValidator(t)
	valid := schema.FlowdirParameters{
		ProjectName: "chip_1",
		BlockName:   "cpu-top",
		ToolName:    "cadence",
		Stage:       "PD",
		RunName:     "run-2025-01-01T10-00",
		PDSteps:     "Floorplan,Place",
	}
	require.NoError(t, v.ValidateValue(SchemaFlowdir, valid))

	all := valid
	all.Stage, all.PDSteps = "all", "all"
	require.NoError(t, v.ValidateValue(SchemaFlowdir, all))

	tests := []struct {
		name   string
		mutate func(p *schema.FlowdirParameters)
		field  string
	}{
		{"space in project", func(p *schema.FlowdirParameters) { p.ProjectName = "a b" }, "projectName"},
		{"unknown tool", func(p *schema.FlowdirParameters) { p.ToolName = "mentor" }, "toolName"},
		{"unknown stage", func(p *schema.FlowdirParameters) { p.Stage = "DFT" }, "stage"},
		{"slash in run", func(p *schema.FlowdirParameters) { p.RunName = "../x" }, "runName"},
		{"bad pd step", func(p *schema.FlowdirParameters) { p.PDSteps = "Floorplan,Dance" }, "pdSteps"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			err := v.ValidateValue(SchemaFlowdir, p)
			require.Error(t, err)
			vs := violations(t, err)
			require.NotEmpty(t, vs)
			assert.Contains(t, vs[0], tc.field)
		})
	}

	err := v.Validate(SchemaFlowdir, []byte(`{"projectName": "p"}`))
	require.Error(t, err)
}

func TestValidate_Audit(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.Validate(SchemaAuditCreate, []byte(`{
		"projectName": "p", "blockName": "b", "toolName": "synopsys", "stage": "all", "runName": "r", "flowId": "f1"
	}`)))
	require.NoError(t, v.Validate(SchemaAuditUpdate, []byte(`{"success": true, "totalDirs": 3, "createdPaths": ["/a"]}`)))
	assert.Error(t, v.Validate(SchemaAuditUpdate, []byte(`{"totalDirs": 3}`)))
	assert.Error(t, v.Validate(SchemaAuditUpdate, []byte(`{"success": false, "totalDirs": -1}`)))
}

func TestValidate_Errors(t *testing.T) {
	v := newValidator(t)
	assert.True(t, schema.IsCode(v.Validate("nope", []byte(`{}`)), schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(v.Validate(SchemaFlowdir, []byte(`{not json`)), schema.ErrCodeValidation))
}
