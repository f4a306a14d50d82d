package nodes

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// ConditionalNode is the Decision-Branch Resolver's source: its output
// marks it as a decision node per §4.4 (an `active_path` key), so
// graph.MarkCompleted prunes whichever of its "true"/"false" branches did
// not win, transitively skipping the subgraph that only that branch feeds.
type ConditionalNode struct{}

func NewConditionalNode() engine.Node { return &ConditionalNode{} }

func (n *ConditionalNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *ConditionalNode) OutputPorts() []graph.Port {
	return []graph.Port{
		{Name: "true", Type: graph.PortUniversal},
		{Name: "false", Type: graph.PortUniversal},
	}
}

func (n *ConditionalNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	condition, _ := in.Config["condition"].(string)
	if condition == "" {
		return nil, fmt.Errorf("condition is required")
	}

	evalCtx := evalContext(in.Ports["input"])

	result, err := gval.Evaluate(condition, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("condition %q failed to evaluate: %w", condition, err)
	}
	branch, ok := result.(bool)
	if !ok {
		return nil, fmt.Errorf("condition %q did not evaluate to a boolean (got %T)", condition, result)
	}

	active := "false"
	if branch {
		active = "true"
	}

	return map[string]interface{}{
		"decision_result": branch,
		"active_path":     active,
		"true":            in.Ports["input"],
		"false":           in.Ports["input"],
	}, nil
}

// evalContext flattens an input value into a gval evaluation scope: a map
// input is used directly (so conditions can reference its fields at the
// root) and is also available whole under "data"; any other input is
// exposed only as "data". LoopControlNode evaluates its condition against
// the same scope.
func evalContext(input interface{}) map[string]interface{} {
	scope := map[string]interface{}{"data": input}
	if m, ok := input.(map[string]interface{}); ok {
		for k, v := range m {
			if k != "data" {
				scope[k] = v
			}
		}
	}
	return scope
}
