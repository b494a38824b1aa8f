package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeData_MergeAppliesOnlySetFields(t *testing.T) {
	d := NodeData{
		Label:      "Project",
		Status:     NodeStatusIdle,
		Value:      "alpha",
		Parameters: map[string]any{"a": 1},
	}

	out := d.Merge(NodePatch{
		Value:      ptr("beta"),
		Parameters: map[string]any{"b": 2},
	})

	assert.Equal(t, "Project", out.Label)
	assert.Equal(t, NodeStatusIdle, out.Status)
	assert.Equal(t, "beta", out.Value)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, out.Parameters)

	// original untouched
	assert.Equal(t, "alpha", d.Value)
	assert.Equal(t, map[string]any{"a": 1}, d.Parameters)
}

func TestNodeData_MergeEmptyPatchIsIdentity(t *testing.T) {
	d := NodeData{Label: "x", Options: []string{"a"}}
	assert.Equal(t, d, d.Merge(NodePatch{}))
}

func TestEdgeID_Deterministic(t *testing.T) {
	assert.Equal(t, "ea-b", EdgeID("a", "b"))
	e := NewEdge("a", "b")
	assert.Equal(t, EdgeID("a", "b"), e.ID)
	assert.True(t, e.Animated)
}

func TestFlowNode_JSONFieldNames(t *testing.T) {
	n := FlowNode{
		ID:   "n1",
		Type: NodeTypeInput,
		Data: NodeData{Label: "Stage", ParameterName: "stage_in_flow", InputType: InputTypeSelect},
	}
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"parameterName":"stage_in_flow"`)
	assert.Contains(t, string(b), `"inputType":"select"`)
	assert.Contains(t, string(b), `"position":{"x":0,"y":0}`)
}

func TestFlowdirParameters_AsMapOmitsEmptyOptionals(t *testing.T) {
	p := FlowdirParameters{ProjectName: "p", BlockName: "b", ToolName: "cadence", Stage: "PD", RunName: "r", PDSteps: "all"}
	m := p.AsMap()
	assert.Equal(t, "all", m["pdSteps"])
	_, ok := m["referenceRun"]
	assert.False(t, ok)
}

func TestFlowError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeValidation, "bad %s", "input").WithNode("n1")
	assert.Equal(t, "[VALIDATION_ERROR] node n1: bad input", err.Error())
	assert.Equal(t, "[TIMEOUT_ERROR] slow", NewError(ErrCodeTimeout, "slow").Error())
}

func TestFlowError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeRemoteExecution, "remote failed").WithCause(cause))

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrCodeRemoteExecution, ErrorCode(err))
	assert.True(t, IsCode(err, ErrCodeRemoteExecution))
	assert.Equal(t, "", ErrorCode(cause))
}

func TestFlowError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeTimeout, "").IsRetryable())
	assert.True(t, NewError(ErrCodeRemoteExecution, "").IsRetryable())
	assert.False(t, NewError(ErrCodeValidation, "").IsRetryable())
	assert.False(t, NewError(ErrCodeNotFound, "").IsRetryable())
}

func ptr[T any](v T) *T { return &v }
