package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// JSONDataNode emits a static JSON value from its config, parsing it first
// if authored as a string. Useful for constants and fixture data.
type JSONDataNode struct{}

func NewJSONDataNode() engine.Node { return &JSONDataNode{} }

func (n *JSONDataNode) InputPorts() []graph.Port { return nil }

func (n *JSONDataNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *JSONDataNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	data, ok := in.Config["data"]
	if !ok {
		return nil, fmt.Errorf("data field is required")
	}
	if str, isString := data.(string); isString {
		var parsed interface{}
		if err := json.Unmarshal([]byte(str), &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON string: %w", err)
		}
		data = parsed
	}
	return map[string]interface{}{"output": data}, nil
}

// JSONExtractNode is a single-purpose JSONPath extraction node — the same
// operation transform's "extract" op performs, exposed standalone for
// workflows that need just one extraction without a full operations list.
type JSONExtractNode struct{}

func NewJSONExtractNode() engine.Node { return &JSONExtractNode{} }

func (n *JSONExtractNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *JSONExtractNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *JSONExtractNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	result, err := extractJSONPath(in.Config, in.Ports["input"])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"output": result}, nil
}
