package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/pkg/schema"
)

func TestFlowDocument_EncodeDecode(t *testing.T) {
	flow := &schema.SavedFlow{
		ID:   "flow-1",
		Name: "Alpha flow",
		Nodes: []schema.FlowNode{
			{ID: "project-1", Type: schema.NodeTypeInput, Position: schema.Position{X: 10, Y: 20},
				Data: schema.NodeData{Label: "Project", ParameterName: "project_name", Value: "alpha"}},
			{ID: "block-1", Type: schema.NodeTypeInput, Position: schema.Position{X: 10, Y: 120},
				Data: schema.NodeData{Label: "Block", ParameterName: "block_name", Value: "cpu"}},
		},
		Edges:             []schema.FlowEdge{schema.NewEdge("project-1", "block-1")},
		CanvasState:       schema.CanvasState{Viewport: schema.Viewport{X: 5, Y: 6, Zoom: 1.5}},
		WorkspaceSettings: json.RawMessage(`{"theme":"dark"}`),
		IsAutoSave:        true,
		UpdatedAt:         time.Now(),
	}

	data, err := encodeFlowDocument(flow)
	require.NoError(t, err)
	assert.Contains(t, string(data), "parameterName: project_name")
	assert.Contains(t, string(data), "name: Alpha flow")

	req, err := decodeFlowDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", req.ID)
	assert.Equal(t, "Alpha flow", req.Name)
	assert.Equal(t, flow.Nodes, req.Nodes)
	assert.Equal(t, flow.Edges, req.Edges)
	assert.Equal(t, flow.CanvasState.Viewport, req.Viewport)
	assert.JSONEq(t, `{"theme":"dark"}`, string(req.WorkspaceSettings))
	assert.False(t, req.IsAutoSave)
}

func TestDecodeFlowDocument_JSON(t *testing.T) {
	req, err := decodeFlowDocument([]byte(`{"name":"From JSON","nodes":[],"edges":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "From JSON", req.Name)
	assert.Equal(t, schema.DefaultViewport, req.Viewport)
}

func TestDecodeFlowDocument_Errors(t *testing.T) {
	_, err := decodeFlowDocument([]byte(""))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = decodeFlowDocument([]byte("nodes: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name")

	_, err = decodeFlowDocument([]byte("name: [unclosed"))
	require.Error(t, err)
}

func TestPrintFlows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printFlows(&buf, nil))
	assert.Equal(t, "No saved flows.\n", buf.String())

	buf.Reset()
	require.NoError(t, printFlows(&buf, []schema.FlowSummary{
		{ID: "f1", Name: "Alpha", NodeCount: 3, EdgeCount: 2, UpdatedAt: time.Now()},
		{ID: "autosave-default", Name: "Autosave", IsAutoSave: true},
	}))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Autosave (autosave)")
}
