package nodes

import (
	"context"
	"fmt"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// HumanInputNode pauses a workflow for an out-of-band operator decision
// (§4.10). Execute never completes the node itself — it emits the await
// marker the scheduler's detectAwait recognizes; HandleInteraction supplies
// the node's actual, final output once the operator responds.
type HumanInputNode struct{}

func NewHumanInputNode() engine.Node { return &HumanInputNode{} }

func (n *HumanInputNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *HumanInputNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *HumanInputNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	interactionType, _ := in.Config["interactionType"].(string)
	if interactionType == "" {
		interactionType = "approval"
	}
	message, _ := in.Config["message"].(string)

	return map[string]interface{}{
		"_await":           "human_input",
		"interaction_id":   in.ExecutionID + ":" + in.NodeID,
		"interaction_type": interactionType,
		"message":          message,
		"input":            in.Ports["input"],
	}, nil
}

// HandleInteraction turns the operator's decision into the node's final
// output. action is expected to be "approve", "reject", or a node-specific
// verb; form carries any fields the review UI collected; payload is the
// map Execute originally returned (§4.10 step 2's "continuation").
func (n *HumanInputNode) HandleInteraction(ctx context.Context, action string, form map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, error) {
	switch action {
	case "approve":
		return map[string]interface{}{
			"output":   payload["input"],
			"approved": true,
			"form":     form,
		}, nil
	case "reject":
		return map[string]interface{}{
			"output":   payload["input"],
			"approved": false,
			"form":     form,
		}, nil
	case "":
		return nil, fmt.Errorf("action is required")
	default:
		return map[string]interface{}{
			"output": payload["input"],
			"action": action,
			"form":   form,
		}, nil
	}
}
