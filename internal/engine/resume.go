package engine

import (
	"context"
	"time"

	"github.com/patali/fluxgraph/internal/graph"
)

// Resume implements the Human-Interaction Resume Path (§4.10). It is called
// from outside the scheduler's owning goroutine (an HTTP handler, typically)
// so it never touches Graph state, and its only Context write is removing
// the resolved pending interaction under the context lock: it resolves the
// pending interaction, invokes the node's HandleInteraction, and hands the
// outcome to the running Run loop over resumeResultCh, which processes it
// through the exact same handleResult path as an ordinary node completion.
//
// Run must already be executing (or about to execute) for this to have any
// effect — a Resume call racing a not-yet-started Run is the caller's bug,
// not this function's.
func (s *Scheduler) Resume(ctx context.Context, g *graph.Graph, execCtx *Context, interactionID string, action string, form map[string]interface{}) error {
	execCtx.mu.Lock()
	var pending *PendingInteraction
	for _, p := range execCtx.PendingInteractions {
		if p.InteractionID == interactionID {
			pending = p
			break
		}
	}
	execCtx.mu.Unlock()

	if pending == nil {
		return &ValidationError{Message: "no pending interaction with id " + interactionID}
	}

	nodeID := pending.NodeID
	cfg := g.Configs[nodeID]
	if cfg == nil {
		return &ConfigurationError{Message: "unknown node for pending interaction: " + nodeID}
	}

	reg, capabilities, err := s.Registry.New(cfg.NodeType)
	if err != nil {
		return err
	}
	if !capabilities.SupportsInteraction {
		return &ConfigurationError{Message: "node " + nodeID + " does not support interaction resume"}
	}
	handler, ok := reg.(InteractionHandler)
	if !ok {
		return &ConfigurationError{Message: "node " + nodeID + " registered without an interaction handler"}
	}

	outcome, err := handler.HandleInteraction(ctx, action, form, pending.Payload)

	execCtx.mu.Lock()
	delete(execCtx.PendingInteractions, nodeID)
	execCtx.mu.Unlock()

	if err != nil {
		s.emit(execCtx, EventExecutionResumed, nodeID, cfg, map[string]interface{}{"interaction_id": interactionID, "error": err.Error()})
		select {
		case execCtx.resumeResultCh <- nodeTaskResult{nodeID: nodeID, err: err}:
		case <-time.After(conveyTimeout):
			return &ConfigurationError{Message: "scheduler did not accept resume result for " + nodeID}
		}
		return nil
	}

	s.emit(execCtx, EventExecutionResumed, nodeID, cfg, map[string]interface{}{"interaction_id": interactionID})
	select {
	case execCtx.resumeResultCh <- nodeTaskResult{nodeID: nodeID, outputs: outcome}:
	case <-time.After(conveyTimeout):
		return &ConfigurationError{Message: "scheduler did not accept resume result for " + nodeID}
	}
	return nil
}

// conveyTimeout bounds how long Resume waits for the scheduler's Run loop
// to pick the outcome off resumeResultCh before reporting the hand-off as
// failed. Run only fails to receive promptly if it has already exited, so
// this is a safety bound, not a normal-path delay.
const conveyTimeout = 10 * time.Second
