package engine

import "github.com/patali/fluxgraph/internal/graph"

// assembleInputs implements the Input Assembler (§4.3): collects upstream
// outputs through a target node's incoming connections, handling the
// "tools" port special case, fan-in coalescing and trigger-data injection.
func assembleInputs(g *graph.Graph, targetNodeID string, nodeOutputs map[string]map[string]interface{}, variables map[string]interface{}) map[string]interface{} {
	inputs := make(map[string]interface{})
	n := g.Nodes[targetNodeID]

	for _, ic := range n.InputConnections {
		if ic.TargetPort == graph.ToolsPort {
			cfg := g.Configs[ic.SourceNodeID]
			var toolDescriptor interface{}
			if cfg != nil {
				toolDescriptor = map[string]interface{}{
					"node_id":   cfg.NodeID,
					"node_type": cfg.NodeType,
					"name":      cfg.Name,
					"config":    cfg.Config,
				}
			}
			inputs[ic.TargetPort] = coalesce(inputs[ic.TargetPort], toolDescriptor, true)
			continue
		}

		srcOutputs, ok := nodeOutputs[ic.SourceNodeID]
		if !ok {
			continue
		}
		value, ok := srcOutputs[ic.SourcePort]
		if !ok {
			continue
		}

		if existing, present := inputs[ic.TargetPort]; present {
			inputs[ic.TargetPort] = coalesce(existing, value, false)
		} else {
			inputs[ic.TargetPort] = value
		}
	}

	injectTriggerData(inputs, variables)
	return inputs
}

// coalesce implements the fan-in contract of §4.3: scalar+scalar -> 2-list,
// list+scalar -> appended, list+list -> extended. alwaysList forces a list
// even for the first value, used for the "tools" port which always carries
// a list of tool descriptors.
func coalesce(existing, incoming interface{}, alwaysList bool) interface{} {
	if existing == nil {
		if alwaysList {
			return []interface{}{incoming}
		}
		return incoming
	}

	existingList, existingIsList := existing.([]interface{})
	incomingList, incomingIsList := incoming.([]interface{})

	switch {
	case existingIsList && incomingIsList:
		return append(append([]interface{}{}, existingList...), incomingList...)
	case existingIsList && !incomingIsList:
		return append(append([]interface{}{}, existingList...), incoming)
	case !existingIsList && incomingIsList:
		return append([]interface{}{existing}, incomingList...)
	default:
		return []interface{}{existing, incoming}
	}
}

// injectTriggerData implements §4.3's post-assembly step: trigger data
// fills inputs["input"] when absent/empty, otherwise inputs["_trigger_data"]
// so existing connections are not shadowed.
func injectTriggerData(inputs map[string]interface{}, variables map[string]interface{}) {
	triggerData, ok := variables["trigger_data"]
	if !ok || triggerData == nil {
		return
	}
	if v, present := inputs["input"]; !present || isEmptyValue(v) {
		inputs["input"] = triggerData
	} else {
		inputs["_trigger_data"] = triggerData
	}
}

func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}
