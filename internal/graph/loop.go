package graph

// LoopEntryNodes returns the ids of nodes that are the target of at least
// one back-edge — nodes iterations re-enter through.
func (g *Graph) LoopEntryNodes() []string {
	var entries []string
	for _, nc := range g.Definition.Nodes {
		n := g.Nodes[nc.NodeID]
		if len(n.LoopBackDependencies) > 0 {
			entries = append(entries, nc.NodeID)
		}
	}
	return entries
}

// LoopSubset computes the node set belonging to the loop closed by a given
// back-edge: entry is the loop-entry node (the back-edge's target), closer
// is the node that produces the back-edge (typically the loop's closing
// decision). The subset is every node lying on some path from entry to
// closer, inclusive of both endpoints — computed as the intersection of
// entry's forward-reachable set and closer's backward-reachable set.
func (g *Graph) LoopSubset(entry, closer string) map[string]bool {
	forward := g.reachableForward(entry)
	backward := g.reachableBackward(closer)

	subset := make(map[string]bool)
	for id := range forward {
		if backward[id] {
			subset[id] = true
		}
	}
	return subset
}

func (g *Graph) reachableForward(start string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.Nodes[id].Dependents {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return visited
}

func (g *Graph) reachableBackward(start string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, ic := range g.Nodes[id].InputConnections {
			if !visited[ic.SourceNodeID] {
				visited[ic.SourceNodeID] = true
				queue = append(queue, ic.SourceNodeID)
			}
		}
	}
	return visited
}

// FullLoopSubset unions LoopSubset over every recorded back-edge. It applies
// no loop-depth limit, and the engine does not call it: the loop controller
// resets one back-edge's LoopSubset at a time.
func (g *Graph) FullLoopSubset() map[string]bool {
	subset := make(map[string]bool)
	for _, c := range g.LoopBackEdges {
		for id := range g.LoopSubset(c.TargetNodeID, c.SourceNodeID) {
			subset[id] = true
		}
	}
	return subset
}

// ResetNodes transitions every node in subset back to PENDING (clearing
// terminal-state membership) and forces loop-entry nodes' RemainingDeps to
// 0 so they become ready for the next iteration without waiting on
// predecessors outside the loop (see Open Questions in SPEC_FULL.md). It
// returns the node ids that are immediately ready after the reset.
func (g *Graph) ResetNodes(subset map[string]bool) []string {
	entries := make(map[string]bool)
	for _, id := range g.LoopEntryNodes() {
		if subset[id] {
			entries[id] = true
		}
	}

	for id := range subset {
		n := g.Nodes[id]
		n.Phase = PhasePending
		delete(g.CompletedNodes, id)
		delete(g.FailedNodes, id)
		delete(g.SkippedNodes, id)
	}

	// Non-entry nodes in the subset need their RemainingDeps restored to
	// "count of non-loop-back incoming edges from predecessors also in the
	// reset subset" so they again wait on this iteration's upstream work;
	// predecessors outside the subset (there should be none by construction
	// for non-entry nodes, since the subset is path-bounded between entry
	// and closer) are not revisited.
	for id := range subset {
		if entries[id] {
			continue
		}
		n := g.Nodes[id]
		count := 0
		for _, ic := range n.InputConnections {
			if ic.TargetPort == ToolsPort {
				continue
			}
			if subset[ic.SourceNodeID] {
				count++
			}
		}
		n.RemainingDeps = count
	}

	var ready []string
	for id := range entries {
		n := g.Nodes[id]
		n.RemainingDeps = 0
		n.Phase = PhaseReady
		ready = append(ready, id)
	}
	return ready
}
