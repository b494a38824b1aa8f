// Package spawn generates node groups for the flow canvas: the default starter
// chain of a pristine canvas and the stage/step blocks produced when a stage or
// PD-steps selector is switched to "all".
//
// Generators are pure. They return nodes and edges without touching the graph;
// Commit feeds a Result into the Graph Store in dependency order.
package spawn

import (
	"fmt"
	"strings"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Layout constants, in canvas units.
const (
	ColumnSpacing = 300.0
	GridDX        = 200.0
	GridDY        = 120.0
)

// Bootstrap id prefixes.
const (
	PrefixProject = "default-project"
	PrefixBlock   = "default-block"
	PrefixTool    = "default-tool"
)

var bootstrapPrefixes = []string{PrefixProject, PrefixBlock, PrefixTool}

// Result is a group of generated nodes and the edges between them.
type Result struct {
	Nodes []schema.FlowNode
	Edges []schema.FlowEdge
}

// Config drives the tool-selection spawn.
type Config struct {
	ToolUsed       string
	RunName        string
	StageSelection string
	RunFlowSteps   string
}

// Generator produces spawn results with ids from its IDFunc.
type Generator struct {
	ids IDFunc
}

// NewGenerator creates a Generator. A nil IDFunc uses NewIDFunc(nil).
func NewGenerator(ids IDFunc) *Generator {
	if ids == nil {
		ids = NewIDFunc(nil)
	}
	return &Generator{ids: ids}
}

// IDs returns the generator's id source.
func (g *Generator) IDs() IDFunc { return g.ids }

// Bootstrap returns the starter chain Project Name -> Block Name -> Tool Selection,
// laid out left to right from origin.
func (g *Generator) Bootstrap(origin schema.Position) Result {
	kinds := []struct {
		kind   Kind
		prefix string
	}{
		{KindProject, PrefixProject},
		{KindBlock, PrefixBlock},
		{KindTool, PrefixTool},
	}

	var r Result
	for i, k := range kinds {
		pos := schema.Position{X: origin.X + float64(i)*ColumnSpacing, Y: origin.Y}
		r.Nodes = append(r.Nodes, palette[k.kind].build(g.ids(k.prefix), pos, ""))
	}
	for i := 0; i+1 < len(r.Nodes); i++ {
		r.Edges = append(r.Edges, schema.NewEdge(r.Nodes[i].ID, r.Nodes[i+1].ID))
	}
	return r
}

// IsBootstrapID reports whether id was generated by Bootstrap.
func IsBootstrapID(id string) bool {
	for _, p := range bootstrapPrefixes {
		if strings.HasPrefix(id, p+"-") {
			return true
		}
	}
	return false
}

// ShouldBootstrap reports whether the starter chain may be generated for the
// given nodes: every node must be a bootstrap node (an empty list qualifies)
// and at least one of the three starter roles must be missing.
func ShouldBootstrap(nodes []schema.FlowNode) bool {
	present := make(map[string]bool, len(bootstrapPrefixes))
	for _, n := range nodes {
		if !IsBootstrapID(n.ID) {
			return false
		}
		for _, p := range bootstrapPrefixes {
			if strings.HasPrefix(n.ID, p+"-") {
				present[p] = true
			}
		}
	}
	return len(present) < len(bootstrapPrefixes)
}

// ToolSpawn returns the stage blocks, the Run Name block and, for PD, the flow
// step blocks generated from the trigger node. Edges always run
// trigger -> stage -> Run Name -> step.
func (g *Generator) ToolSpawn(triggerID string, at schema.Position, cfg Config) Result {
	stage := cfg.StageSelection
	if stage == "" {
		stage = schema.SelectionAll
	}

	var r Result
	stageX := at.X + ColumnSpacing

	stages := expand(stage, schema.AllStages)
	stageNodes := make([]schema.FlowNode, len(stages))
	for i, st := range stages {
		desc := fmt.Sprintf("%s stage", st)
		if cfg.ToolUsed != "" {
			desc = fmt.Sprintf("%s stage (%s)", st, cfg.ToolUsed)
		}
		stageNodes[i] = blockNode(g.ids("stage-"+strings.ToLower(st)), st, RoleStageBlock, st, desc,
			gridPos(stageX, at.Y, i, len(stages)), triggerID)
	}
	r.Nodes = append(r.Nodes, stageNodes...)

	runX := stageX + gridWidth(len(stages)) + ColumnSpacing
	runNode := blockNode(g.ids("run-name"), "Run Name", RoleRunName, cfg.RunName, "Run directory name",
		schema.Position{X: runX, Y: at.Y + gridHeight(len(stages))/2}, triggerID)
	r.Nodes = append(r.Nodes, runNode)

	for _, n := range stageNodes {
		r.Edges = append(r.Edges, schema.NewEdge(triggerID, n.ID))
		r.Edges = append(r.Edges, schema.NewEdge(n.ID, runNode.ID))
	}

	if stage != schema.SelectionAll && stage != schema.StagePD {
		return r
	}

	steps := expand(orAll(cfg.RunFlowSteps), schema.AllPDSteps)
	stepX := runX + ColumnSpacing
	for i, st := range steps {
		n := blockNode(g.ids("step-"+strings.ToLower(st)), st, RoleFlowStep, st, fmt.Sprintf("PD step %s", st),
			gridPos(stepX, at.Y, i, len(steps)), triggerID)
		r.Nodes = append(r.Nodes, n)
		r.Edges = append(r.Edges, schema.NewEdge(runNode.ID, n.ID))
	}
	return r
}

// ConfigFromGraph reads the spawn configuration for trigger from the current nodes.
// A PD-steps trigger without a stage selector implies the PD stage.
func ConfigFromGraph(nodes []schema.FlowNode, triggerID string) Config {
	var cfg Config
	var trigger schema.FlowNode
	for _, n := range nodes {
		if n.ID == triggerID {
			trigger = n
		}
		switch n.Data.ParameterName {
		case RoleToolUsed:
			cfg.ToolUsed = firstNonEmpty(cfg.ToolUsed, n.Data.Value)
		case RoleRunName:
			cfg.RunName = firstNonEmpty(cfg.RunName, n.Data.Value)
		case RoleStageInFlow:
			cfg.StageSelection = firstNonEmpty(cfg.StageSelection, n.Data.Value)
		case RolePDSteps:
			cfg.RunFlowSteps = firstNonEmpty(cfg.RunFlowSteps, n.Data.Value)
		}
	}
	switch trigger.Data.ParameterName {
	case RoleStageInFlow:
		cfg.StageSelection = trigger.Data.Value
	case RolePDSteps:
		cfg.RunFlowSteps = trigger.Data.Value
		if cfg.StageSelection == "" {
			cfg.StageSelection = schema.StagePD
		}
	}
	cfg.StageSelection = orAll(cfg.StageSelection)
	cfg.RunFlowSteps = orAll(cfg.RunFlowSteps)
	return cfg
}

func expand(sel string, all []string) []string {
	if sel == schema.SelectionAll {
		return all
	}
	return []string{sel}
}

func orAll(v string) string {
	if v == "" {
		return schema.SelectionAll
	}
	return v
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// gridPos lays out n blocks: a 2x2 grid for four, a single slot otherwise.
func gridPos(x, y float64, i, n int) schema.Position {
	if n == 1 {
		return schema.Position{X: x, Y: y}
	}
	return schema.Position{X: x + float64(i%2)*GridDX, Y: y + float64(i/2)*GridDY}
}

func gridWidth(n int) float64 {
	if n == 1 {
		return 0
	}
	return GridDX
}

func gridHeight(n int) float64 {
	if n == 1 {
		return 0
	}
	return float64((n+1)/2-1) * GridDY
}
