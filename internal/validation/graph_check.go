package validation

import (
	"fmt"
	"slices"

	"github.com/rendis/pinnacle/pkg/schema"
)

// GraphReport is the structural analysis of a flow graph.
type GraphReport struct {
	// Order is a topological order of node ids; ties keep node list order.
	Order []string
	// Roots are nodes without incoming edges.
	Roots []string
	// Isolated are nodes without any edge.
	Isolated []string
}

// CheckGraph rejects duplicate node ids and dangling edges, then orders the
// nodes with Kahn's algorithm. A cycle yields CYCLE_DETECTED.
func CheckGraph(nodes []schema.FlowNode, edges []schema.FlowEdge) (*GraphReport, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID).WithNode(n.ID)
		}
		index[n.ID] = i
	}

	inDegree := make([]int, len(nodes))
	out := make([][]int, len(nodes))
	touched := make([]bool, len(nodes))
	for _, e := range edges {
		src, okSrc := index[e.Source]
		dst, okDst := index[e.Target]
		if !okSrc || !okDst {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"edge %q references a missing node (%s -> %s)", e.ID, e.Source, e.Target).
				WithDetails(map[string]any{"edge_id": e.ID})
		}
		out[src] = append(out[src], dst)
		inDegree[dst]++
		touched[src], touched[dst] = true, true
	}

	report := &GraphReport{}
	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
			report.Roots = append(report.Roots, nodes[i].ID)
		}
		if !touched[i] {
			report.Isolated = append(report.Isolated, nodes[i].ID)
		}
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		report.Order = append(report.Order, nodes[i].ID)
		next := out[i]
		slices.Sort(next)
		for _, j := range next {
			inDegree[j]--
			if inDegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}

	if len(report.Order) != len(nodes) {
		var stuck []string
		for i, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, nodes[i].ID)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			fmt.Sprintf("flow contains a cycle through %d nodes", len(stuck))).
			WithDetails(map[string]any{"nodes": stuck})
	}
	return report, nil
}
