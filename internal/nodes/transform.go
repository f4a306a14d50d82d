package nodes

import (
	"encoding/json"
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// TransformNode applies a configured sequence of data-shaping operations to
// its input: extract (JSONPath), map (field renaming, reading source paths
// with gjson), parse/stringify (JSON <-> string), concat, and set (sjson
// dotted-path write).
type TransformNode struct{}

func NewTransformNode() engine.Node { return &TransformNode{} }

func (n *TransformNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal, Required: true}}
}

func (n *TransformNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *TransformNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	operations, _ := in.Config["operations"].([]interface{})
	data := in.Ports["input"]

	for i, opRaw := range operations {
		op, ok := opRaw.(map[string]interface{})
		if !ok {
			continue
		}
		opType, _ := op["type"].(string)
		opConfig, _ := op["config"].(map[string]interface{})

		var err error
		data, err = applyOperation(opType, opConfig, data)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s) failed: %w", i+1, opType, err)
		}
	}

	return map[string]interface{}{"output": data}, nil
}

func applyOperation(opType string, config map[string]interface{}, data interface{}) (interface{}, error) {
	switch opType {
	case "extract":
		return extractJSONPath(config, data)
	case "map":
		return mapFields(config, data)
	case "parse":
		return parseJSON(config, data)
	case "stringify":
		return stringifyJSON(config, data)
	case "concat":
		return concatFields(config, data)
	case "set":
		return setPath(config, data)
	default:
		return data, nil
	}
}

func extractJSONPath(config map[string]interface{}, data interface{}) (interface{}, error) {
	path, _ := config["jsonPath"].(string)
	if path == "" {
		return nil, fmt.Errorf("jsonPath is required for extract")
	}

	jsonData, err := toJSONCompatible(data)
	if err != nil {
		return nil, err
	}

	result, err := jsonpath.Get(path, jsonData)
	if err != nil {
		return nil, fmt.Errorf("jsonpath query failed: %w", err)
	}

	if outputKey, ok := config["outputKey"].(string); ok && outputKey != "" {
		return map[string]interface{}{outputKey: result}, nil
	}
	return result, nil
}

// setPath writes a single value into a dotted path of the data using sjson:
// the data is marshalled to JSON, patched, and unmarshalled again.
func setPath(config map[string]interface{}, data interface{}) (interface{}, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required for set")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	updated, err := sjson.SetBytes(raw, path, config["value"])
	if err != nil {
		return nil, fmt.Errorf("sjson set failed: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal updated data: %w", err)
	}
	return out, nil
}

func getNested(data map[string]interface{}, path string) (interface{}, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

func mapFields(config map[string]interface{}, data interface{}) (interface{}, error) {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("data must be an object for map")
	}

	mappings := config["mappings"]
	if mappings == nil {
		return data, nil
	}
	includeUnmapped, _ := config["includeUnmapped"].(bool)
	result := make(map[string]interface{})
	if includeUnmapped {
		for k, v := range dataMap {
			result[k] = v
		}
	}

	switch m := mappings.(type) {
	case []interface{}:
		for _, item := range m {
			mapping, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			from, _ := mapping["from"].(string)
			to, _ := mapping["to"].(string)
			if from == "" || to == "" {
				continue
			}
			if v, ok := getNested(dataMap, from); ok {
				result[to] = v
			}
		}
	case map[string]interface{}:
		for from, toRaw := range m {
			to, ok := toRaw.(string)
			if !ok {
				continue
			}
			if v, ok := getNested(dataMap, from); ok {
				result[to] = v
			}
		}
	default:
		return nil, fmt.Errorf("mappings must be an array or object")
	}
	return result, nil
}

func parseJSON(config map[string]interface{}, data interface{}) (interface{}, error) {
	inputKey, _ := config["inputKey"].(string)
	outputKey, _ := config["outputKey"].(string)
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("data must be an object for parse")
	}
	str, ok := dataMap[inputKey].(string)
	if !ok {
		return nil, fmt.Errorf("input key %s not found or not a string", inputKey)
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(str), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	result := cloneDataMap(dataMap)
	result[outputKey] = parsed
	return result, nil
}

func stringifyJSON(config map[string]interface{}, data interface{}) (interface{}, error) {
	inputKey, _ := config["inputKey"].(string)
	outputKey, _ := config["outputKey"].(string)
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("data must be an object for stringify")
	}
	raw, err := json.Marshal(dataMap[inputKey])
	if err != nil {
		return nil, fmt.Errorf("failed to stringify: %w", err)
	}
	result := cloneDataMap(dataMap)
	result[outputKey] = string(raw)
	return result, nil
}

func concatFields(config map[string]interface{}, data interface{}) (interface{}, error) {
	fieldsCSV, _ := config["inputs"].(string)
	separator, _ := config["separator"].(string)
	outputKey, _ := config["outputKey"].(string)
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("data must be an object for concat")
	}
	var values []string
	for _, field := range strings.Split(fieldsCSV, ",") {
		field = strings.TrimSpace(field)
		if v, ok := dataMap[field]; ok {
			values = append(values, fmt.Sprintf("%v", v))
		}
	}
	result := cloneDataMap(dataMap)
	result[outputKey] = strings.Join(values, separator)
	return result, nil
}

func cloneDataMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toJSONCompatible(data interface{}) (interface{}, error) {
	if m, ok := data.(map[string]interface{}); ok {
		return m, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return out, nil
}
