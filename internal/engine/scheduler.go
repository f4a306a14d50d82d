package engine

import (
	"context"
	"math"
	"time"

	"github.com/patali/fluxgraph/internal/graph"
	"github.com/patali/fluxgraph/internal/engine/pool"
)

// Scheduler is the reactive, push-based execution loop of §4.6 — the
// heart of the engine. One Scheduler instance is shared across
// executions; all per-execution state lives in the Graph and Context
// passed to Run.
type Scheduler struct {
	Registry    *Registry
	Pools       *pool.Pools
	Publisher   Publisher
	Credentials CredentialManager
	Config      Config
}

type nodeTaskResult struct {
	nodeID   string
	outputs  map[string]interface{}
	err      error
	await    *PendingInteraction
	metadata map[string]interface{}
}

// Run drives one execution to a terminal state: COMPLETED, FAILED, or
// STOPPED. While a node awaits an interaction the context is PAUSED and Run
// keeps blocking until Resume hands the outcome over on resumeResultCh (or
// the workflow deadline passes), then continues scheduling. seedNodesExecuted
// lets a resumed execution carry forward its abuse-prevention node count.
func (s *Scheduler) Run(parent context.Context, g *graph.Graph, execCtx *Context, seedNodesExecuted int) error {
	conf := s.Config.WithDefaults()

	workflowCtx, cancel := context.WithTimeout(parent, conf.WorkflowTimeout)
	defer cancel()

	execCtx.SetStatus(StatusRunning)

	limits := newLimitTracker(seedNodesExecuted)
	resultCh := make(chan nodeTaskResult)
	active := make(map[string]context.CancelFunc)
	ready := g.ReadyNodes()
	paused := false

	for len(ready) > 0 || len(active) > 0 || paused {
		if execCtx.isCancelRequested() {
			s.cancelAll(active)
			s.markRemainingStopped(g)
			execCtx.SetStatus(StatusStopped)
			return &CancellationError{}
		}

		if len(ready) == 0 && len(active) == 0 {
			if paused {
				select {
				case <-execCtx.resumeCh:
					paused = false
					continue
				case res := <-execCtx.resumeResultCh:
					newlyReady, _, stop := s.handleResult(g, execCtx, res, conf)
					if stop {
						execCtx.SetStatus(StatusFailed)
						return res.err
					}
					ready = append(ready, newlyReady...)
					execCtx.mu.Lock()
					paused = len(execCtx.PendingInteractions) > 0
					execCtx.mu.Unlock()
					continue
				case <-workflowCtx.Done():
					return s.handleDeadline(workflowCtx, g, execCtx, active)
				}
			}
			if g.HasLoops {
				result := evaluateLoops(g, execCtx)
				if result.ShouldContinue {
					ready = result.NewlyReady
					continue
				}
			}
			break
		}

		for _, id := range ready {
			if _, inFlight := active[id]; inFlight {
				continue
			}
			taskCtx, taskCancel := context.WithCancel(workflowCtx)
			active[id] = taskCancel
			go s.runNode(taskCtx, g, execCtx, id, conf, resultCh)
		}
		ready = nil

		select {
		case res := <-resultCh:
			delete(active, res.nodeID)
			if err := limits.recordNodeExecuted(); err != nil {
				s.cancelAll(active)
				execCtx.SetStatus(StatusFailed)
				return err
			}
			newlyReady, nowPaused, stop := s.handleResult(g, execCtx, res, conf)
			if stop {
				s.cancelAll(active)
				execCtx.SetStatus(StatusFailed)
				return res.err
			}
			if nowPaused {
				paused = true
			}
			ready = append(ready, newlyReady...)
		case res := <-execCtx.resumeResultCh:
			newlyReady, _, stop := s.handleResult(g, execCtx, res, conf)
			if stop {
				s.cancelAll(active)
				execCtx.SetStatus(StatusFailed)
				return res.err
			}
			ready = append(ready, newlyReady...)
			execCtx.mu.Lock()
			paused = len(execCtx.PendingInteractions) > 0
			execCtx.mu.Unlock()
		case <-execCtx.resumeCh:
			paused = false
		case <-workflowCtx.Done():
			return s.handleDeadline(workflowCtx, g, execCtx, active)
		}
	}

	now := time.Now()
	execCtx.mu.Lock()
	execCtx.CompletedAt = &now
	execCtx.mu.Unlock()

	if len(g.FailedNodes) > 0 {
		execCtx.SetStatus(StatusFailed)
		return nil
	}
	execCtx.SetStatus(StatusCompleted)
	return nil
}

func (s *Scheduler) handleDeadline(workflowCtx context.Context, g *graph.Graph, execCtx *Context, active map[string]context.CancelFunc) error {
	s.cancelAll(active)
	s.markRemainingStopped(g)
	execCtx.SetStatus(StatusFailed)
	return &TimeoutError{Scope: "workflow"}
}

func (s *Scheduler) cancelAll(active map[string]context.CancelFunc) {
	for _, cancel := range active {
		cancel()
	}
}

func (s *Scheduler) markRemainingStopped(g *graph.Graph) {
	for id, n := range g.Nodes {
		switch n.Phase {
		case graph.PhaseCompleted, graph.PhaseFailed, graph.PhaseSkipped, graph.PhaseStopped:
			continue
		default:
			n.Phase = graph.PhaseStopped
			_ = id
		}
	}
}

// handleResult processes one completed node task: soft-error detection
// (already applied by runNode), variable publication, decision/loop graph
// propagation, and pause bookkeeping. Returns newly-ready node ids,
// whether the execution is now paused, and whether a hard stop is needed.
func (s *Scheduler) handleResult(g *graph.Graph, execCtx *Context, res nodeTaskResult, conf Config) (newlyReady []string, paused bool, stop bool) {
	n := g.Nodes[res.nodeID]
	cfg := g.Configs[res.nodeID]

	if res.err != nil {
		n.Phase = graph.PhaseFailed
		g.FailedNodes[res.nodeID] = true
		execCtx.recordFailure(res.nodeID, res.err.Error(), res.outputs, res.metadata)
		s.emit(execCtx, EventNodeFailed, res.nodeID, cfg, map[string]interface{}{"error": res.err.Error()})
		if conf.StopOnError {
			return nil, false, true
		}
		return nil, false, false
	}

	if res.await != nil {
		n.Phase = graph.PhaseAwaitingInteraction
		execCtx.mu.Lock()
		execCtx.PendingInteractions[res.nodeID] = res.await
		execCtx.mu.Unlock()
		execCtx.SetStatus(StatusPaused)
		s.emit(execCtx, EventInteractionRequired, res.nodeID, cfg, map[string]interface{}{"interaction_id": res.await.InteractionID})
		s.emit(execCtx, EventExecutionPaused, res.nodeID, cfg, nil)
		return nil, true, false
	}

	execCtx.recordSuccess(res.nodeID, res.outputs, res.metadata)
	if cfg != nil && cfg.ShareOutputToVariable {
		key := cfg.VariableName
		if key == "" {
			key = SanitizeVariableName(cfg.Name)
		}
		execCtx.publishNodeVariable(key, res.outputs)
	}
	s.emit(execCtx, EventNodeComplete, res.nodeID, cfg, map[string]interface{}{"outputs": res.outputs})

	newlyReady = g.MarkCompleted(res.nodeID, res.outputs)
	return newlyReady, false, false
}

func (s *Scheduler) emit(execCtx *Context, eventType string, nodeID string, cfg *graph.NodeConfig, extra map[string]interface{}) {
	if s.Publisher == nil {
		return
	}
	fields := map[string]interface{}{"node_id": nodeID}
	if cfg != nil {
		fields["node_type"] = cfg.NodeType
		fields["node_name"] = cfg.Name
	}
	for k, v := range extra {
		fields[k] = v
	}
	s.Publisher.Publish(Event{Type: eventType, ExecutionID: execCtx.ExecutionID, Fields: fields})
}

// runNode executes a single node through its full lifecycle (§4.6,
// "Execution of a single node"): input assembly, credential injection,
// port validation, pool acquisition, retried execution, soft-error
// normalization, human-interaction detection. It never mutates graph state;
// its only context write is recordStart's running placeholder (under the
// context lock). It sends exactly one nodeTaskResult back to the scheduler,
// which performs every other shared-state write.
func (s *Scheduler) runNode(ctx context.Context, g *graph.Graph, execCtx *Context, nodeID string, conf Config, out chan<- nodeTaskResult) {
	cfg := g.Configs[nodeID]
	reg, capabilities, err := s.Registry.New(cfg.NodeType)
	if err != nil {
		out <- nodeTaskResult{nodeID: nodeID, err: err}
		return
	}

	execCtx.recordStart(nodeID)
	s.emit(execCtx, EventNodeStart, nodeID, cfg, nil)

	execCtx.mu.Lock()
	variables := cloneMap(execCtx.Variables)
	nodeOutputs := make(map[string]map[string]interface{}, len(execCtx.NodeOutputs))
	for k, v := range execCtx.NodeOutputs {
		nodeOutputs[k] = v
	}
	frontendOrigin := execCtx.FrontendOrigin
	execCtx.mu.Unlock()

	inputs := assembleInputs(g, nodeID, nodeOutputs, variables)

	if err := validatePorts(reg, inputs, nodeID); err != nil {
		out <- nodeTaskResult{nodeID: nodeID, err: err}
		return
	}

	credentials, err := resolveCredentials(ctx, s.Credentials, cfg.Config)
	if err != nil {
		out <- nodeTaskResult{nodeID: nodeID, err: err}
		return
	}
	resolvedConfig := ResolveConfig(cfg.Config, variables, credentials)

	release, err := s.Pools.Acquire(ctx, capabilities.Pools)
	if err != nil {
		out <- nodeTaskResult{nodeID: nodeID, err: err}
		return
	}
	defer release()

	runner := s.nodeRunner(g, execCtx, conf)

	in := &NodeExecutionInput{
		Ports:          inputs,
		WorkflowID:     execCtx.WorkflowID,
		ExecutionID:    execCtx.ExecutionID,
		NodeID:         nodeID,
		Variables:      variables,
		Config:         resolvedConfig,
		Credentials:    credentials,
		NodeRunner:     runner,
		FrontendOrigin: frontendOrigin,
	}

	outputs, metadata, err := s.executeWithRetry(ctx, reg, in, conf, nodeID)
	if cleaner, ok := reg.(Cleaner); ok {
		_ = cleaner.Cleanup(ctx)
	}

	if err != nil {
		out <- nodeTaskResult{nodeID: nodeID, outputs: outputs, err: err, metadata: metadata}
		return
	}

	if await := detectAwait(nodeID, outputs); await != nil {
		out <- nodeTaskResult{nodeID: nodeID, await: await}
		return
	}

	out <- nodeTaskResult{nodeID: nodeID, outputs: outputs, metadata: metadata}
}

// executeWithRetry wraps node.Execute with a per-node timeout and the
// exponential-backoff retry policy of §4.6: delay = min(retry_delay *
// backoff_multiplier^attempt, max_retry_delay). Soft errors (§4.6 step 9)
// are normalized into a NodeExecutionError so they participate in retry
// the same as a raised error; when the final attempt is a soft error, its
// output payload is returned alongside the error.
func (s *Scheduler) executeWithRetry(ctx context.Context, node Node, in *NodeExecutionInput, conf Config, nodeID string) (map[string]interface{}, map[string]interface{}, error) {
	var lastErr error
	var lastOutputs map[string]interface{}
	for attempt := 0; attempt <= conf.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Min(
				float64(conf.RetryDelay)*math.Pow(conf.BackoffMultiplier, float64(attempt-1)),
				float64(conf.MaxRetryDelay),
			))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, &TimeoutError{NodeID: nodeID, Scope: "node"}
			}
		}

		nodeCtx, cancel := context.WithTimeout(ctx, conf.DefaultTimeout)
		outputs, err := node.Execute(nodeCtx, in)
		cancel()

		if err == nil {
			if softErr := detectSoftError(outputs); softErr != "" {
				lastErr = &NodeExecutionError{NodeID: nodeID, Err: errString(softErr), Soft: true}
				lastOutputs = outputs
				continue
			}
			return outputs, nil, nil
		}

		lastOutputs = nil
		if nodeCtx.Err() == context.DeadlineExceeded {
			lastErr = &TimeoutError{NodeID: nodeID, Scope: "node"}
		} else {
			lastErr = &NodeExecutionError{NodeID: nodeID, Err: err}
		}
	}
	metadata := map[string]interface{}{}
	if ne, ok := lastErr.(*NodeExecutionError); ok && ne.Soft {
		metadata["soft_error"] = true
	}
	return lastOutputs, metadata, lastErr
}

func (s *Scheduler) nodeRunner(g *graph.Graph, execCtx *Context, conf Config) NodeRunner {
	return func(ctx context.Context, targetNodeID string, inputsOverride, configOverride map[string]interface{}) (map[string]interface{}, error) {
		cfg := g.Configs[targetNodeID]
		if cfg == nil {
			return nil, &ConfigurationError{Message: "unknown tool node: " + targetNodeID}
		}
		reg, capabilities, err := s.Registry.New(cfg.NodeType)
		if err != nil {
			return nil, err
		}

		execCtx.mu.Lock()
		variables := cloneMap(execCtx.Variables)
		execCtx.mu.Unlock()

		inputs := inputsOverride
		if inputs == nil {
			execCtx.mu.Lock()
			nodeOutputs := make(map[string]map[string]interface{}, len(execCtx.NodeOutputs))
			for k, v := range execCtx.NodeOutputs {
				nodeOutputs[k] = v
			}
			execCtx.mu.Unlock()
			inputs = assembleInputs(g, targetNodeID, nodeOutputs, variables)
		}

		effectiveConfig := cfg.Config
		if configOverride != nil {
			effectiveConfig = configOverride
		}
		credentials, err := resolveCredentials(ctx, s.Credentials, effectiveConfig)
		if err != nil {
			return nil, err
		}
		resolvedConfig := ResolveConfig(effectiveConfig, variables, credentials)

		release, err := s.Pools.Acquire(ctx, capabilities.Pools)
		if err != nil {
			return nil, err
		}
		defer release()

		in := &NodeExecutionInput{
			Ports:       inputs,
			WorkflowID:  execCtx.WorkflowID,
			ExecutionID: execCtx.ExecutionID,
			NodeID:      targetNodeID,
			Variables:   variables,
			Config:      resolvedConfig,
			Credentials: credentials,
			NodeRunner:  s.nodeRunner(g, execCtx, conf),
		}
		nodeCtx, cancel := context.WithTimeout(ctx, conf.DefaultTimeout)
		defer cancel()
		return reg.Execute(nodeCtx, in)
	}
}

func validatePorts(node Node, inputs map[string]interface{}, nodeID string) error {
	for _, port := range node.InputPorts() {
		if !port.Required {
			continue
		}
		if _, ok := inputs[port.Name]; !ok {
			return &ValidationError{NodeID: nodeID, Message: "missing required port " + port.Name}
		}
	}
	return nil
}

// detectAwait recognizes the pause markers a node's output can carry (§4.6
// step 8): `_await: "human_input"` per §4.10, or `_await: "sleep"` for the
// delay node's suspend/resume generalization (SPEC_FULL Part D). Both pause
// the execution identically; only who resumes them differs.
func detectAwait(nodeID string, outputs map[string]interface{}) *PendingInteraction {
	if outputs == nil {
		return nil
	}
	marker, ok := outputs["_await"].(string)
	if !ok || (marker != "human_input" && marker != "sleep") {
		return nil
	}
	interactionID, _ := outputs["interaction_id"].(string)
	pi := &PendingInteraction{
		NodeID:        nodeID,
		Kind:          marker,
		InteractionID: interactionID,
		Payload:       outputs,
		CreatedAt:     time.Now(),
	}
	if wakeAtStr, ok := outputs["wake_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, wakeAtStr); err == nil {
			pi.WakeAt = &t
		}
	}
	return pi
}

// detectSoftError implements §4.6 step 9: a dict output carrying a
// non-null error/_error key, or success == false, is a soft error.
func detectSoftError(outputs map[string]interface{}) string {
	if outputs == nil {
		return ""
	}
	if v, ok := outputs["error"]; ok && v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		return "node reported a soft error"
	}
	if v, ok := outputs["_error"]; ok && v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		return "node reported a soft error"
	}
	if v, ok := outputs["success"]; ok {
		if b, ok := v.(bool); ok && !b {
			return "node reported success=false"
		}
	}
	return ""
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type stringError string

func (e stringError) Error() string { return string(e) }
func errString(s string) error      { return stringError(s) }
