package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/pinnacle/pkg/schema"
)

// ApprovalPolicy decides whether gated parameters may skip the user prompt.
// The expression sees one variable, params, keyed by the JSON parameter names:
//
//	params.stage != "all" && params.toolName == "cadence"
type ApprovalPolicy struct {
	source string
	prg    cel.Program
}

// NewApprovalPolicy compiles expression. An empty expression returns a nil
// policy, which never auto-approves.
func NewApprovalPolicy(expression string) (*ApprovalPolicy, error) {
	if expression == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"approval policy %q: %s", expression, issues.Err().Error()).WithCause(issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"approval policy %q: %s", expression, err.Error()).WithCause(err)
	}
	return &ApprovalPolicy{source: expression, prg: prg}, nil
}

// String returns the policy expression.
func (p *ApprovalPolicy) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// AutoApprove evaluates the policy. Non-bool results count as false. Reading
// an absent optional parameter is an evaluation error; use has(params.x).
func (p *ApprovalPolicy) AutoApprove(params schema.FlowdirParameters) (bool, error) {
	if p == nil {
		return false, nil
	}
	out, _, err := p.prg.Eval(map[string]any{"params": params.AsMap()})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"approval policy %q failed: %s", p.source, err.Error()).WithCause(err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}
