package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/pkg/schema"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func keyed(key, value string) schema.FlowNode {
	return schema.FlowNode{ID: key, Data: schema.NodeData{ParameterName: key, Value: value}}
}

func labeled(label, value string) schema.FlowNode {
	return schema.FlowNode{ID: label, Data: schema.NodeData{Label: label, Value: value}}
}

func TestExtract_RequiresProjectBlockAndTool(t *testing.T) {
	core := []schema.FlowNode{
		keyed("project_name", "p"),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
	}
	extras := []schema.FlowNode{
		keyed("stage_in_flow", "PD"),
		keyed("run_name", "r1"),
		keyed("pd_steps", "CTS"),
		keyed("reference_run", "r0"),
	}

	require.NotNil(t, Extract(core, fixedNow))

	// every subset missing at least one required field yields nil
	for mask := 0; mask < 7; mask++ {
		var nodes []schema.FlowNode
		for i, n := range core {
			if mask&(1<<i) != 0 {
				nodes = append(nodes, n)
			}
		}
		for extraMask := 0; extraMask < 1<<len(extras); extraMask++ {
			withExtras := append([]schema.FlowNode(nil), nodes...)
			for i, n := range extras {
				if extraMask&(1<<i) != 0 {
					withExtras = append(withExtras, n)
				}
			}
			assert.Nil(t, Extract(withExtras, fixedNow), "mask=%b extras=%b", mask, extraMask)
		}
	}
}

func TestExtract_BlankValuesCountAsAbsent(t *testing.T) {
	nodes := []schema.FlowNode{
		keyed("project_name", "  "),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
	}
	assert.Nil(t, Extract(nodes, fixedNow))
}

func TestExtract_Defaults(t *testing.T) {
	p := Extract([]schema.FlowNode{
		keyed("project_name", "p"),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
	}, fixedNow)
	require.NotNil(t, p)
	assert.Equal(t, "all", p.Stage)
	assert.Equal(t, "run-2025-03-14T09-26", p.RunName)
	assert.Empty(t, p.PDSteps)
	assert.Empty(t, Validate(*p), "synthesized run name must be valid")
}

func TestExtract_PDStepsDefaultOnlyForPD(t *testing.T) {
	nodes := []schema.FlowNode{
		keyed("project_name", "p"),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
		keyed("stage_in_flow", "PD"),
	}
	assert.Equal(t, "all", Extract(nodes, fixedNow).PDSteps)

	nodes[3] = keyed("stage_in_flow", "LEC")
	assert.Empty(t, Extract(nodes, fixedNow).PDSteps)
}

func TestExtract_KeyBeatsLabel(t *testing.T) {
	nodes := []schema.FlowNode{
		labeled("Project (legacy)", "fromLabel"),
		keyed("project_name", "fromKey"),
		keyed("block_name", "b"),
		keyed("tool_name", "synopsys"),
	}
	p := Extract(nodes, fixedNow)
	require.NotNil(t, p)
	assert.Equal(t, "fromKey", p.ProjectName)
	assert.Equal(t, "synopsys", p.ToolName)
}

func TestExtract_LabelFallback(t *testing.T) {
	nodes := []schema.FlowNode{
		labeled("PROJECT", "chip"),
		labeled("Block Name", "cpu"),
		labeled("EDA Tool", "cadence"),
		labeled("Stage", "SYNTH"),
		labeled("Run Name", "r2"),
		labeled("Flow Steps", "Route"),
	}
	p := Extract(nodes, fixedNow)
	require.NotNil(t, p)
	assert.Equal(t, schema.FlowdirParameters{
		ProjectName: "chip",
		BlockName:   "cpu",
		ToolName:    "cadence",
		Stage:       "SYNTH",
		RunName:     "r2",
		PDSteps:     "Route",
	}, *p)
}

func TestExtract_IgnoresGeneratedBlocksForLabels(t *testing.T) {
	nodes := []schema.FlowNode{
		keyed("project_name", "p"),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
		{ID: "s", Data: schema.NodeData{Label: "Stage block", ParameterName: "stage_block", Value: "SYNTH"}},
	}
	assert.Equal(t, "all", Extract(nodes, fixedNow).Stage)
}

func TestExtract_Optionals(t *testing.T) {
	p := Extract([]schema.FlowNode{
		keyed("project_name", "p"),
		keyed("block_name", "b"),
		keyed("tool_used", "cadence"),
		keyed("working_directory", "/work"),
		keyed("central_scripts", "/scripts"),
		keyed("mcp_server_url", "http://mcp:8080"),
	}, fixedNow)
	require.NotNil(t, p)
	assert.Equal(t, "/work", p.WorkingDirectory)
	assert.Equal(t, "/scripts", p.CentralScripts)
	assert.Equal(t, "http://mcp:8080", p.MCPServerURL)
}

func TestValidate_SpaceInProjectName(t *testing.T) {
	v := Validate(schema.FlowdirParameters{
		ProjectName: "a b",
		BlockName:   "ok",
		ToolName:    "cadence",
		Stage:       "all",
		RunName:     "r1",
	})
	require.Len(t, v, 1)
	assert.Contains(t, v[0], "projectName")
}

func TestValidate_Required(t *testing.T) {
	v := Validate(schema.FlowdirParameters{})
	assert.Len(t, v, 5)
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(schema.FlowdirParameters{
		ProjectName: "proj_1",
		BlockName:   "blk-2",
		ToolName:    "synopsys",
		Stage:       "PD",
		RunName:     "run-2025-01-01T00-00",
	}))
}

func TestCheck(t *testing.T) {
	require.NoError(t, Check(schema.FlowdirParameters{ProjectName: "p", BlockName: "b", ToolName: "t", Stage: "all", RunName: "r"}))

	err := Check(schema.FlowdirParameters{ProjectName: "p/x", BlockName: "b", ToolName: "t", Stage: "all", RunName: "r"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
