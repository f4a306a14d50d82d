package graph

import "strings"

// IsDecisionNode reports whether a node's result outputs mark it as a
// decision node per §4.4: either an `active_path` key, or both
// `blocked_outputs` and `decision_result`.
func IsDecisionNode(outputs map[string]interface{}) bool {
	if outputs == nil {
		return false
	}
	if _, ok := outputs["active_path"]; ok {
		return true
	}
	_, hasBlocked := outputs["blocked_outputs"]
	_, hasResult := outputs["decision_result"]
	return hasBlocked && hasResult
}

func branchLabel(c Connection, sourcePort string) string {
	if c.Metadata != nil {
		if b, ok := c.Metadata["branch"]; ok && b != "" {
			return b
		}
	}
	lower := strings.ToLower(sourcePort)
	switch {
	case strings.Contains(lower, "true"):
		return "true"
	case strings.Contains(lower, "false"):
		return "false"
	default:
		return "true"
	}
}

func blockedSet(outputs map[string]interface{}) map[string]bool {
	blocked := make(map[string]bool)
	if raw, ok := outputs["blocked_outputs"]; ok {
		switch v := raw.(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					blocked[s] = true
				}
			}
		case []string:
			for _, s := range v {
				blocked[s] = true
			}
		}
	}
	return blocked
}

func activePath(outputs map[string]interface{}) (string, bool) {
	raw, ok := outputs["active_path"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// MarkCompleted records nodeID as completed and propagates readiness to its
// dependents, applying the Decision-Branch Resolver (§4.4) when nodeID's
// outputs mark it as a decision node. It returns the set of node ids that
// became newly ready as a result.
func (g *Graph) MarkCompleted(nodeID string, outputs map[string]interface{}) []string {
	g.CompletedNodes[nodeID] = true
	n := g.Nodes[nodeID]
	n.Phase = PhaseCompleted

	adjacency := g.outgoing(nodeID)

	if IsDecisionNode(outputs) {
		return g.resolveDecision(nodeID, outputs, adjacency)
	}

	var newlyReady []string
	for _, dep := range n.Dependents {
		if g.decrementAndMaybeReady(dep) {
			newlyReady = append(newlyReady, dep)
		}
	}
	return newlyReady
}

// outgoing returns the outgoing connections of a node, metadata included,
// in connection-definition order.
func (g *Graph) outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range g.Definition.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

func (g *Graph) resolveDecision(nodeID string, outputs map[string]interface{}, outgoing []Connection) []string {
	blocked := blockedSet(outputs)
	active, hasActive := activePath(outputs)

	blockedEdges := make(map[[2]string]bool) // {source port, target node id}
	for _, c := range outgoing {
		label := branchLabel(c, c.SourcePort)
		if blocked[label] || (hasActive && label != active) {
			blockedEdges[[2]string{c.SourcePort, c.TargetNodeID}] = true
		}
	}

	var newlyReady []string
	for _, c := range outgoing {
		if blockedEdges[[2]string{c.SourcePort, c.TargetNodeID}] {
			newlyReady = append(newlyReady, g.skipSubgraph(c.TargetNodeID, nodeID, blockedEdges)...)
			continue
		}
		if g.decrementAndMaybeReady(c.TargetNodeID) {
			newlyReady = append(newlyReady, c.TargetNodeID)
		}
	}

	ready := newlyReady[:0]
	for _, id := range newlyReady {
		if g.Nodes[id].Phase == PhaseReady {
			ready = append(ready, id)
		}
	}
	return ready
}

// skipSubgraph marks nodeID and its descendants SKIPPED, via BFS, stopping
// at any node that has a surviving (non-skipped, non-blocking) path to it —
// i.e. a node is only skipped once every one of its incoming edges comes
// from an already-skipped node or a blocking edge of decisionID. It returns
// the dependents that became ready along the way; the caller keeps those
// still READY once all skipping is done.
func (g *Graph) skipSubgraph(nodeID, decisionID string, blockedEdges map[[2]string]bool) []string {
	var readied []string
	queue := []string{nodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n := g.Nodes[id]
		if n.Phase == PhaseSkipped || n.Phase == PhaseCompleted || n.Phase == PhaseFailed {
			continue
		}
		if !g.allIncomingBlockedOrSkipped(id, decisionID, blockedEdges) {
			continue
		}

		n.Phase = PhaseSkipped
		g.SkippedNodes[id] = true

		for _, dep := range n.Dependents {
			// Skipped nodes still decrement dependents like a normal
			// completion, so a dependent with a surviving path can become
			// ready here and proceed.
			if g.decrementAndMaybeReady(dep) {
				readied = append(readied, dep)
			}
			queue = append(queue, dep)
		}
	}
	return readied
}

// allIncomingBlockedOrSkipped reports whether every incoming edge of id
// originates from a node that is itself skipped, or is one of decisionID's
// blocked edges. A surviving non-blocked path means id must not be skipped.
func (g *Graph) allIncomingBlockedOrSkipped(id, decisionID string, blockedEdges map[[2]string]bool) bool {
	n := g.Nodes[id]
	for _, ic := range n.InputConnections {
		src := g.Nodes[ic.SourceNodeID]
		if g.SkippedNodes[ic.SourceNodeID] {
			continue
		}
		if ic.SourceNodeID == decisionID && blockedEdges[[2]string{ic.SourcePort, id}] {
			continue
		}
		if src.Phase == PhaseCompleted || src.Phase == PhasePending || src.Phase == PhaseExecuting || src.Phase == PhaseReady {
			// A live predecessor on an edge that is not blocked: id has (or
			// will have) a surviving path, so it is not skipped.
			return false
		}
	}
	return true
}

// decrementAndMaybeReady decrements a node's RemainingDeps (floored at the
// transition point) and reports whether the node just became READY. The
// transition PENDING -> READY happens at most once: once a node leaves
// PENDING it is never reconsidered here again until an explicit loop reset.
func (g *Graph) decrementAndMaybeReady(nodeID string) bool {
	n := g.Nodes[nodeID]
	if n.Phase != PhasePending {
		return false
	}
	n.RemainingDeps--
	if n.RemainingDeps < 0 {
		n.RemainingDeps = 0
	}
	if n.RemainingDeps == 0 && !g.IsToolOnly(nodeID) {
		n.Phase = PhaseReady
		return true
	}
	return false
}
