package engine

import (
	"context"
	"sync"
	"time"

	"github.com/patali/fluxgraph/internal/graph"
)

// WorkflowSource resolves a workflow id to the graph Definition of its
// latest version. The engine never parses storage-layer JSON itself (§6) —
// that belongs to whatever backs this interface.
type WorkflowSource interface {
	LoadDefinition(ctx context.Context, workflowID string) (*graph.Definition, error)
}

// CheckpointNode is one already-completed node carried forward into a
// resumed execution (§4.9/§6 checkpoint/resume).
type CheckpointNode struct {
	NodeID  string
	Outputs map[string]interface{}
}

// ExecutionRecorder is the injected persistence boundary (§6): the engine
// itself never opens a database connection, it only reports outcomes
// through this interface. StartedAt is returned so a resumed execution's
// workflow-timeout can be computed against the original start rather than
// the moment of resumption.
type ExecutionRecorder interface {
	LoadCheckpoint(ctx context.Context, executionID string) (startedAt time.Time, nodesExecuted int, checkpoint []CheckpointNode, err error)
	UpdateStatus(ctx context.Context, executionID string, status Status, errMsg string) error
	UpdateNodeResult(ctx context.Context, executionID string, nodeID string, result *NodeResult) error
}

// Orchestrator is the engine's single entry point (§2 component 9): it
// loads a workflow definition, builds the graph, creates a Context, drives
// the Scheduler, and reports the terminal outcome through the
// ExecutionRecorder. It also tracks in-flight executions so Cancel and
// Resume can reach the right Context/Graph pair from an external caller.
type Orchestrator struct {
	Scheduler *Scheduler
	Workflows WorkflowSource
	Recorder  ExecutionRecorder

	mu     sync.Mutex
	active map[string]*activeExecution
}

type activeExecution struct {
	graph   *graph.Graph
	execCtx *Context
}

func NewOrchestrator(scheduler *Scheduler, workflows WorkflowSource, recorder ExecutionRecorder) *Orchestrator {
	return &Orchestrator{
		Scheduler: scheduler,
		Workflows: workflows,
		Recorder:  recorder,
		active:    make(map[string]*activeExecution),
	}
}

// Execute drives one workflow execution to a terminal state. triggerData,
// when non-nil, is merged into context.variables["trigger_data"] per §4.9's
// spawn_callback contract — it is how a trigger-originated execution and a
// manually-started one both feed input to the graph's entry nodes.
func (o *Orchestrator) Execute(parent context.Context, workflowID, executionID, startedBy string, triggerData map[string]interface{}) error {
	def, err := o.Workflows.LoadDefinition(parent, workflowID)
	if err != nil {
		return err
	}

	g, err := graph.Build(def)
	if err != nil {
		return err
	}

	startedAt, seedNodesExecuted, checkpoint, err := o.Recorder.LoadCheckpoint(parent, executionID)
	if err != nil {
		return err
	}
	resuming := len(checkpoint) > 0

	execCtx := NewContext(executionID, workflowID, startedBy)
	if resuming {
		execCtx.StartedAt = startedAt
	}
	if triggerData != nil {
		execCtx.Variables["trigger_data"] = triggerData
	}
	for k, v := range def.Variables {
		if _, exists := execCtx.Variables[k]; !exists {
			execCtx.Variables[k] = v
		}
	}

	applyCheckpoint(g, execCtx, checkpoint)

	o.mu.Lock()
	o.active[executionID] = &activeExecution{graph: g, execCtx: execCtx}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, executionID)
		o.mu.Unlock()
	}()

	runCtx := parent
	if resuming {
		// A resumed execution must not be torn down by a shutdown signal that
		// cancelled the process which originally queued it; only its own
		// workflow-timeout budget (computed below, against the original
		// StartedAt) should end it.
		runCtx = context.Background()
	}

	conf := applyExecutionConstraints(o.Scheduler.Config, def.ExecutionConstraints).WithDefaults()
	if conf.WorkflowTimeout > MaxExecutionDuration {
		conf.WorkflowTimeout = MaxExecutionDuration
	}
	if resuming {
		elapsed := time.Since(startedAt)
		remaining := conf.WorkflowTimeout - elapsed
		if remaining < time.Second {
			remaining = time.Second
		}
		conf.WorkflowTimeout = remaining
	}
	sched := *o.Scheduler
	sched.Config = conf

	runErr := sched.Run(runCtx, g, execCtx, seedNodesExecuted)

	status, results := execCtx.Snapshot()
	for nodeID, res := range results {
		_ = o.Recorder.UpdateNodeResult(parent, executionID, nodeID, res)
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := o.Recorder.UpdateStatus(parent, executionID, status, errMsg); err != nil {
		return err
	}
	return runErr
}

// Cancel requests cooperative cancellation of an in-flight execution (§5).
// It is a no-op, not an error, if the execution is not currently active —
// the caller may be racing its natural completion.
func (o *Orchestrator) Cancel(executionID string) {
	o.mu.Lock()
	ae := o.active[executionID]
	o.mu.Unlock()
	if ae != nil {
		ae.execCtx.RequestCancel()
	}
}

// Resume implements the HTTP-facing half of the Human-Interaction Resume
// Path (§4.10): it looks up the live Graph/Context for executionID and
// delegates to Scheduler.Resume.
func (o *Orchestrator) Resume(ctx context.Context, executionID, interactionID, action string, form map[string]interface{}) error {
	o.mu.Lock()
	ae := o.active[executionID]
	o.mu.Unlock()
	if ae == nil {
		return &ValidationError{Message: "execution " + executionID + " is not active"}
	}
	return o.Scheduler.Resume(ctx, ae.graph, ae.execCtx, interactionID, action, form)
}

// SleepWakeup identifies one suspended delay node ready to resume.
type SleepWakeup struct {
	ExecutionID   string
	InteractionID string
}

// DueSleepWakeups scans every active execution's pending interactions for
// sleeping delay nodes whose wake_at has passed — internal/sleepsched polls
// this instead of a database table, since suspended executions here live in
// memory rather than behind the ExecutionRecorder.
func (o *Orchestrator) DueSleepWakeups(now time.Time) []SleepWakeup {
	o.mu.Lock()
	snapshot := make(map[string]*activeExecution, len(o.active))
	for id, ae := range o.active {
		snapshot[id] = ae
	}
	o.mu.Unlock()

	var due []SleepWakeup
	for executionID, ae := range snapshot {
		for _, p := range ae.execCtx.PendingSleepInteractions(now) {
			due = append(due, SleepWakeup{ExecutionID: executionID, InteractionID: p.InteractionID})
		}
	}
	return due
}

// applyExecutionConstraints lets a workflow definition override the
// per-execution Config defaults (§6: execution_constraints), without
// mutating the Orchestrator's shared baseline Config.
func applyExecutionConstraints(base Config, constraints map[string]interface{}) Config {
	c := base
	if v, ok := constraints["max_concurrent_nodes"].(float64); ok {
		c.MaxConcurrentNodes = int(v)
	}
	if v, ok := constraints["node_timeout_seconds"].(float64); ok {
		c.DefaultTimeout = time.Duration(v) * time.Second
	}
	if v, ok := constraints["workflow_timeout_seconds"].(float64); ok {
		c.WorkflowTimeout = time.Duration(v) * time.Second
	}
	if v, ok := constraints["stop_on_error"].(bool); ok {
		c.StopOnError = v
	}
	if v, ok := constraints["max_retries"].(float64); ok {
		c.MaxRetries = int(v)
	}
	return c
}

// applyCheckpoint fast-forwards a freshly-built Graph/Context to the state
// a prior run left off at: node outputs and results are seeded directly,
// then MarkCompleted replays the same dependent-decrement and
// decision/loop propagation a live completion would have triggered, so a
// resumed execution's graph state is indistinguishable from one that
// reached the same point without interruption.
func applyCheckpoint(g *graph.Graph, execCtx *Context, checkpoint []CheckpointNode) {
	for _, cp := range checkpoint {
		execCtx.NodeOutputs[cp.NodeID] = cp.Outputs
		execCtx.NodeResults[cp.NodeID] = &NodeResult{
			Success:     true,
			Outputs:     cp.Outputs,
			StartedAt:   execCtx.StartedAt,
			CompletedAt: &execCtx.StartedAt,
		}
	}
	for _, cp := range checkpoint {
		n := g.Nodes[cp.NodeID]
		if n == nil || n.Phase == graph.PhaseCompleted {
			continue
		}
		g.MarkCompleted(cp.NodeID, cp.Outputs)
	}
}
