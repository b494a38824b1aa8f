package spawn

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/pinnacle/pkg/schema"
)

// DefaultRule fires when a stage or PD-steps selector switches to "all".
const DefaultRule = `role in ["stage_in_flow", "pd_steps"] && value == "all" && previous != "all"`

// Rules decides whether a node update triggers a tool-selection spawn.
// Each rule is an expr-lang boolean expression over:
//
//	role      the node's parameterName
//	value     the node's value after the update
//	previous  the node's value before the update
//	label     the node's label, lower-cased
//
// A spawn fires when any rule evaluates to true.
type Rules struct {
	sources  []string
	programs []*vm.Program
}

// CompileRules compiles the given expressions. With none, DefaultRule is used.
func CompileRules(sources ...string) (*Rules, error) {
	if len(sources) == 0 {
		sources = []string{DefaultRule}
	}
	r := &Rules{}
	for _, src := range sources {
		prg, err := expr.Compile(src, expr.Env(ruleEnv(schema.NodeData{}, "")), expr.AsBool())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"spawn rule compile error in %q: %s", src, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": src})
		}
		r.sources = append(r.sources, src)
		r.programs = append(r.programs, prg)
	}
	return r, nil
}

// MustCompileRules is like CompileRules but panics on error.
func MustCompileRules(sources ...string) *Rules {
	r, err := CompileRules(sources...)
	if err != nil {
		panic(err)
	}
	return r
}

// Sources returns the rule expressions.
func (r *Rules) Sources() []string { return append([]string(nil), r.sources...) }

// Match reports whether data, previously holding value previous, triggers a spawn.
func (r *Rules) Match(data schema.NodeData, previous string) (bool, error) {
	env := ruleEnv(data, previous)
	for i, prg := range r.programs {
		out, err := vm.Run(prg, env)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"spawn rule evaluation failed for %q: %s", r.sources[i], err.Error()).
				WithCause(err)
		}
		if ok, _ := out.(bool); ok {
			return true, nil
		}
	}
	return false, nil
}

func ruleEnv(data schema.NodeData, previous string) map[string]any {
	return map[string]any{
		"role":     data.ParameterName,
		"value":    data.Value,
		"previous": previous,
		"label":    strings.ToLower(data.Label),
	}
}
