// Package nodes contains the concrete Node implementations the engine
// dispatches through the engine.Registry — the node types a workflow's
// JSON definition actually names.
package nodes

import (
	"context"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// StartNode is a workflow's synthetic entry point: it carries no logic of
// its own, it exists so every workflow has a single node with no incoming
// connections to seed the reactive scheduler's first ready set.
type StartNode struct{}

func NewStartNode() engine.Node { return &StartNode{} }

func (n *StartNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *StartNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *StartNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	data := in.Ports["input"]
	if data == nil {
		data = in.Variables["trigger_data"]
	}
	return map[string]interface{}{"output": data}, nil
}

// EndNode is a workflow's synthetic exit point. It passes its input through
// unchanged so an execution's final output is whatever reached here.
type EndNode struct{}

func NewEndNode() engine.Node { return &EndNode{} }

func (n *EndNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *EndNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *EndNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	return map[string]interface{}{"output": in.Ports["input"]}, nil
}
