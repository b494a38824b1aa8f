package spawn

import (
	"sort"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Semantic keys carried in NodeData.ParameterName.
const (
	RoleProjectName      = "project_name"
	RoleBlockName        = "block_name"
	RoleToolUsed         = "tool_used"
	RoleStageInFlow      = "stage_in_flow"
	RolePDSteps          = "pd_steps"
	RoleRunName          = "run_name"
	RoleReferenceRun     = "reference_run"
	RoleWorkingDirectory = "working_directory"
	RoleCentralScripts   = "central_scripts"
	RoleMCPServerURL     = "mcp_server_url"
	RoleStageBlock       = "stage_block"
	RoleFlowStep         = "flow_step"
)

// SpawnedByKey marks nodes generated by a trigger, keyed by the trigger id.
const SpawnedByKey = "spawnedBy"

// ToolChoices are the EDA tool vendors understood by the directory tool.
var ToolChoices = []string{"cadence", "synopsys"}

// Kind names a node template of the palette.
type Kind string

const (
	KindProject          Kind = "project"
	KindBlock            Kind = "block"
	KindTool             Kind = "tool"
	KindStage            Kind = "stage"
	KindPDSteps          Kind = "pd_steps"
	KindRunName          Kind = "run_name"
	KindReferenceRun     Kind = "reference_run"
	KindWorkingDirectory Kind = "working_directory"
	KindCentralScripts   Kind = "central_scripts"
	KindMCPServer        Kind = "mcp_server"
)

type template struct {
	nodeType    schema.NodeType
	label       string
	role        string
	inputType   schema.InputType
	description string
	options     []string
}

var palette = map[Kind]template{
	KindProject:          {schema.NodeTypeInput, "Project Name", RoleProjectName, schema.InputTypeText, "Project the run directories belong to", nil},
	KindBlock:            {schema.NodeTypeInput, "Block Name", RoleBlockName, schema.InputTypeText, "Design block inside the project", nil},
	KindTool:             {schema.NodeTypeProcess, "Tool Selection", RoleToolUsed, schema.InputTypeSelect, "EDA tool vendor", ToolChoices},
	KindStage:            {schema.NodeTypeProcess, "Stage in Flow", RoleStageInFlow, schema.InputTypeSelect, "Flow stage to create (all creates every stage)", append([]string{schema.SelectionAll}, schema.AllStages...)},
	KindPDSteps:          {schema.NodeTypeProcess, "PD Steps", RolePDSteps, schema.InputTypeSelect, "Physical design steps", append([]string{schema.SelectionAll}, schema.AllPDSteps...)},
	KindRunName:          {schema.NodeTypeInput, "Run Name", RoleRunName, schema.InputTypeText, "Name of the run directory", nil},
	KindReferenceRun:     {schema.NodeTypeInput, "Reference Run", RoleReferenceRun, schema.InputTypeText, "Existing run to link against (optional)", nil},
	KindWorkingDirectory: {schema.NodeTypeInput, "Working Directory", RoleWorkingDirectory, schema.InputTypeText, "Top work area", nil},
	KindCentralScripts:   {schema.NodeTypeInput, "Central Scripts", RoleCentralScripts, schema.InputTypeText, "Central scripts directory", nil},
	KindMCPServer:        {schema.NodeTypeInput, "MCP Server URL", RoleMCPServerURL, schema.InputTypeText, "MCP server handling the directory creation", nil},
}

// Kinds returns the palette kinds in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(palette))
	for k := range palette {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewNode builds a palette node of the given kind with a fresh id.
func NewNode(kind Kind, pos schema.Position, value string, ids IDFunc) (schema.FlowNode, error) {
	tpl, ok := palette[kind]
	if !ok {
		return schema.FlowNode{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown node kind %q", kind)
	}
	if ids == nil {
		ids = NewIDFunc(nil)
	}
	return tpl.build(ids(string(kind)), pos, value), nil
}

func (t template) build(id string, pos schema.Position, value string) schema.FlowNode {
	return schema.FlowNode{
		ID:       id,
		Type:     t.nodeType,
		Position: pos,
		Data: schema.NodeData{
			Label:         t.label,
			Status:        schema.NodeStatusIdle,
			ParameterName: t.role,
			Value:         value,
			InputType:     t.inputType,
			Description:   t.description,
			Options:       append([]string(nil), t.options...),
		},
	}
}

func blockNode(id, label, role, value, desc string, pos schema.Position, trigger string) schema.FlowNode {
	return schema.FlowNode{
		ID:       id,
		Type:     schema.NodeTypeProcess,
		Position: pos,
		Data: schema.NodeData{
			Label:         label,
			Status:        schema.NodeStatusIdle,
			ParameterName: role,
			Value:         value,
			InputType:     schema.InputTypeText,
			Description:   desc,
			Parameters:    map[string]any{SpawnedByKey: trigger},
		},
	}
}
