package engine

import "github.com/patali/fluxgraph/internal/graph"

// loopControllerResult is what evaluateLoops hands back to the scheduler.
type loopControllerResult struct {
	ShouldContinue bool
	NewlyReady     []string
}

// evaluateLoops implements the Loop Controller's end-of-iteration handling
// (§4.8): continuation test per closing back-edge, reset of the
// corresponding loop subset when continuing.
func evaluateLoops(g *graph.Graph, ctx *Context) loopControllerResult {
	closers := distinctClosers(g)
	if len(closers) == 0 {
		return loopControllerResult{ShouldContinue: false}
	}

	var continuing []string
	for _, closer := range closers {
		if g.SkippedNodes[closer] {
			// A decision upstream of the loop entry blocked the back-path:
			// this loop cannot continue, regardless of any recorded
			// continue_loop output.
			continue
		}
		if continueLoopSignal(ctx, closer) {
			continuing = append(continuing, closer)
		}
	}

	if len(continuing) == 0 {
		return loopControllerResult{ShouldContinue: false}
	}

	subset := make(map[string]bool)
	loopControlNodes := make(map[string]bool)
	for _, closer := range continuing {
		entry := entryForCloser(g, closer)
		for id := range g.LoopSubset(entry, closer) {
			subset[id] = true
		}
		loopControlNodes[closer] = true
	}

	clearIterationState(ctx, subset, loopControlNodes)
	ready := g.ResetNodes(subset)
	return loopControllerResult{ShouldContinue: true, NewlyReady: ready}
}

func distinctClosers(g *graph.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range g.LoopBackEdges {
		if !seen[c.SourceNodeID] {
			seen[c.SourceNodeID] = true
			out = append(out, c.SourceNodeID)
		}
	}
	return out
}

func entryForCloser(g *graph.Graph, closer string) string {
	for _, c := range g.LoopBackEdges {
		if c.SourceNodeID == closer {
			return c.TargetNodeID
		}
	}
	return ""
}

// continueLoopSignal reads the closing node's last recorded output for a
// continue_loop key and booleanizes it. Absent signal -> false.
func continueLoopSignal(ctx *Context, closer string) bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	result, ok := ctx.NodeResults[closer]
	if !ok || result.Outputs == nil {
		return false
	}
	raw, ok := result.Outputs["continue_loop"]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// clearIterationState clears node_outputs/node_results for the loop
// subset ahead of the next iteration, except for loop-control nodes
// (identifiable by a continue_loop key in their outputs) whose last value
// is retained so upstream consumers of the iteration count still see it.
func clearIterationState(ctx *Context, subset map[string]bool, loopControlNodes map[string]bool) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for id := range subset {
		if loopControlNodes[id] {
			continue
		}
		delete(ctx.NodeOutputs, id)
		delete(ctx.NodeResults, id)
	}
}
