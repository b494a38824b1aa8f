// Package params derives FlowDir parameters from the flow graph and checks them
// before a directory-creation run is submitted.
package params

import (
	"strings"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// RunNameLayout formats the synthesized run name timestamp (minute precision).
const RunNameLayout = "2006-01-02T15-04"

// field describes how one parameter is located in the graph: exact parameterName
// keys first, then case-insensitive label substrings.
type field struct {
	keys   []string
	labels []string
}

var (
	fProject      = field{keys: []string{"project_name"}, labels: []string{"project"}}
	fBlock        = field{keys: []string{"block_name"}, labels: []string{"block"}}
	fTool         = field{keys: []string{"tool_used", "tool_name"}, labels: []string{"tool"}}
	fStage        = field{keys: []string{"stage_in_flow"}, labels: []string{"stage"}}
	fRunName      = field{keys: []string{"run_name"}, labels: []string{"run name"}}
	fPDSteps      = field{keys: []string{"pd_steps", "run_flow_steps"}, labels: []string{"pd step", "flow step"}}
	fReferenceRun = field{keys: []string{"reference_run"}}
	fWorkingDir   = field{keys: []string{"working_directory"}}
	fCentral      = field{keys: []string{"central_scripts"}}
	fMCPServer    = field{keys: []string{"mcp_server_url"}}
)

// Extract scans nodes for FlowDir parameters. It returns nil unless project,
// block and tool are all present, which callers treat as an ordinary execution.
// now is used to synthesize a run name when none is present.
func Extract(nodes []schema.FlowNode, now time.Time) *schema.FlowdirParameters {
	p := &schema.FlowdirParameters{
		ProjectName: lookup(nodes, fProject),
		BlockName:   lookup(nodes, fBlock),
		ToolName:    lookup(nodes, fTool),
	}
	if p.ProjectName == "" || p.BlockName == "" || p.ToolName == "" {
		return nil
	}

	p.Stage = lookup(nodes, fStage)
	if p.Stage == "" {
		p.Stage = schema.SelectionAll
	}
	p.RunName = lookup(nodes, fRunName)
	if p.RunName == "" {
		p.RunName = "run-" + now.Format(RunNameLayout)
	}
	p.PDSteps = lookup(nodes, fPDSteps)
	if p.PDSteps == "" && p.Stage == schema.StagePD {
		p.PDSteps = schema.SelectionAll
	}
	p.ReferenceRun = lookup(nodes, fReferenceRun)
	p.WorkingDirectory = lookup(nodes, fWorkingDir)
	p.CentralScripts = lookup(nodes, fCentral)
	p.MCPServerURL = lookup(nodes, fMCPServer)
	return p
}

// lookup returns the first non-blank value matching f.
func lookup(nodes []schema.FlowNode, f field) string {
	for _, key := range f.keys {
		for _, n := range nodes {
			if n.Data.ParameterName != key {
				continue
			}
			if v := strings.TrimSpace(n.Data.Value); v != "" {
				return v
			}
		}
	}
	for _, sub := range f.labels {
		for _, n := range nodes {
			if n.Data.ParameterName != "" && !isParamKey(n.Data.ParameterName) {
				// generated blocks carry their own roles; skip them here
				continue
			}
			if !strings.Contains(strings.ToLower(n.Data.Label), sub) {
				continue
			}
			if v := strings.TrimSpace(n.Data.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

var paramKeys = func() map[string]bool {
	m := map[string]bool{}
	for _, f := range []field{fProject, fBlock, fTool, fStage, fRunName, fPDSteps, fReferenceRun, fWorkingDir, fCentral, fMCPServer} {
		for _, k := range f.keys {
			m[k] = true
		}
	}
	return m
}()

func isParamKey(k string) bool { return paramKeys[k] }
