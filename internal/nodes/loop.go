package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// LoopControlNode closes a loop body (§4.8): it sits at the back-edge's
// source and emits `continue_loop`, which the Loop Controller reads to
// decide whether to reset the loop subset for another iteration.
type LoopControlNode struct{}

func NewLoopControlNode() engine.Node { return &LoopControlNode{} }

func (n *LoopControlNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *LoopControlNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *LoopControlNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	condition, _ := in.Config["continue_while"].(string)
	cont := false
	if condition != "" {
		result, err := gval.Evaluate(condition, evalContext(in.Ports["input"]))
		if err != nil {
			return nil, fmt.Errorf("continue_while %q failed to evaluate: %w", condition, err)
		}
		b, ok := result.(bool)
		if !ok {
			return nil, fmt.Errorf("continue_while %q did not evaluate to a boolean", condition)
		}
		cont = b
	}

	return map[string]interface{}{
		"output":        in.Ports["input"],
		"continue_loop": cont,
	}, nil
}

// LoopAccumulatorNode prepares a per-iteration view of an input array so a
// loop body can fan out over it: it resolves arrayPath to the target
// array and hands back items plus the variable names each iteration's
// consumer should bind them under.
type LoopAccumulatorNode struct{}

func NewLoopAccumulatorNode() engine.Node { return &LoopAccumulatorNode{} }

func (n *LoopAccumulatorNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *LoopAccumulatorNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *LoopAccumulatorNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	arrayPath, _ := in.Config["arrayPath"].(string)
	var items []interface{}

	if arrayPath != "" {
		arrayPath = strings.TrimPrefix(arrayPath, "input.")
		found, ok := extractArray(in.Ports["input"], arrayPath)
		if !ok {
			return nil, fmt.Errorf("could not find array at path: %s", arrayPath)
		}
		items = found
	} else {
		switch v := in.Ports["input"].(type) {
		case []interface{}:
			items = v
		case map[string]interface{}:
			if arr, ok := v["data"].([]interface{}); ok {
				items = arr
			} else if arr, ok := v["items"].([]interface{}); ok {
				items = arr
			} else {
				return nil, fmt.Errorf("input is an object but no array found; specify arrayPath")
			}
		default:
			return nil, fmt.Errorf("input is not an array or object with an array field")
		}
	}

	itemVariable, _ := in.Config["itemVariable"].(string)
	if itemVariable == "" {
		itemVariable = "item"
	}
	indexVariable, _ := in.Config["indexVariable"].(string)
	if indexVariable == "" {
		indexVariable = "index"
	}

	results := make([]interface{}, len(items))
	for i, item := range items {
		results[i] = map[string]interface{}{
			indexVariable: i,
			itemVariable:  item,
		}
	}

	return map[string]interface{}{
		"output": map[string]interface{}{
			"iteration_count": len(items),
			"items":           items,
			"results":         results,
		},
	}, nil
}

func extractArray(data interface{}, path string) ([]interface{}, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, exists := m[part]
		if !exists {
			return nil, false
		}
		current = next
	}
	arr, ok := current.([]interface{})
	return arr, ok
}
