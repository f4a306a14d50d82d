package engine

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is the execution-wide lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusPaused    Status = "paused"
)

// NodeResult is the {success, outputs, error, started_at, completed_at,
// metadata} record described in §3. StartedAt is preserved across retries
// and soft-error normalization — it is written once and never overwritten.
type NodeResult struct {
	Success     bool
	Outputs     map[string]interface{}
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Metadata    map[string]interface{}
}

// PendingInteraction is the stored payload for a node awaiting an external
// outcome before it can complete. Kind "human_input" is the §4.10 path
// driven by an operator's resume call; kind "sleep" is the delay node's
// suspend/resume generalization (SPEC_FULL Part D) driven by the sleep
// scheduler instead of a human action — both share the exact same pause,
// store, and resume machinery.
type PendingInteraction struct {
	NodeID        string
	Kind          string
	InteractionID string
	Payload       map[string]interface{}
	WakeAt        *time.Time
	CreatedAt     time.Time
}

// Context holds per-execution mutable state: node outputs, per-node
// results, variables, errors, pending interactions. During a run most
// writes come from the scheduler's controlling goroutine; node goroutines
// also write their start placeholder (recordStart) and Resume removes a
// resolved pending interaction, both under the mutex, which also lets
// external callers (status queries, the HTTP boundary) read a consistent
// snapshot concurrently with the scheduler.
type Context struct {
	mu sync.Mutex

	ExecutionID    string
	WorkflowID     string
	ExecutionMode  string
	StartedBy      string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         Status
	FrontendOrigin string

	NodeOutputs          map[string]map[string]interface{}
	NodeResults          map[string]*NodeResult
	Variables            map[string]interface{}
	Errors               []string
	PendingInteractions  map[string]*PendingInteraction

	resumeCh        chan struct{}
	resumeResultCh  chan nodeTaskResult
	cancelRequested bool
}

func NewContext(executionID, workflowID, startedBy string) *Context {
	return &Context{
		ExecutionID:         executionID,
		WorkflowID:          workflowID,
		ExecutionMode:       "parallel",
		StartedBy:           startedBy,
		StartedAt:           time.Now(),
		Status:              StatusPending,
		NodeOutputs:         make(map[string]map[string]interface{}),
		NodeResults:         make(map[string]*NodeResult),
		Variables:           make(map[string]interface{}),
		PendingInteractions: make(map[string]*PendingInteraction),
		resumeCh:            make(chan struct{}, 1),
		resumeResultCh:      make(chan nodeTaskResult, 1),
	}
}

// RequestCancel flips the cooperative cancellation flag consulted by the
// scheduler on its next tick (§5).
func (c *Context) RequestCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRequested = true
}

func (c *Context) isCancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// SignalResume wakes a paused scheduler loop without handing it a result.
// Resume does not call it: Resume delivers the interaction outcome on
// resumeResultCh, which the scheduler loop receives directly.
func (c *Context) SignalResume() {
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

// SetStatus updates the execution-wide status under lock.
func (c *Context) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = s
}

// Snapshot returns a shallow copy of the status-relevant fields, safe to
// read from another goroutine while the scheduler continues to run.
func (c *Context) Snapshot() (Status, map[string]*NodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := make(map[string]*NodeResult, len(c.NodeResults))
	for k, v := range c.NodeResults {
		results[k] = v
	}
	return c.Status, results
}

// recordStart writes a running placeholder result, preserving StartedAt if
// one already exists for this node (a retry or a loop iteration must not
// reset it).
func (c *Context) recordStart(nodeID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.NodeResults[nodeID]; ok && !existing.StartedAt.IsZero() {
		return existing.StartedAt
	}
	started := time.Now()
	c.NodeResults[nodeID] = &NodeResult{StartedAt: started}
	return started
}

func (c *Context) recordSuccess(nodeID string, outputs map[string]interface{}, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	startedAt := time.Time{}
	if existing, ok := c.NodeResults[nodeID]; ok {
		startedAt = existing.StartedAt
	}
	now := time.Now()
	c.NodeOutputs[nodeID] = outputs
	c.NodeResults[nodeID] = &NodeResult{
		Success:     true,
		Outputs:     outputs,
		StartedAt:   startedAt,
		CompletedAt: &now,
		Metadata:    metadata,
	}
}

func (c *Context) recordFailure(nodeID string, errMsg string, outputs map[string]interface{}, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	startedAt := time.Time{}
	if existing, ok := c.NodeResults[nodeID]; ok {
		startedAt = existing.StartedAt
	}
	now := time.Now()
	c.NodeResults[nodeID] = &NodeResult{
		Success:     false,
		Outputs:     outputs,
		Error:       errMsg,
		StartedAt:   startedAt,
		CompletedAt: &now,
		Metadata:    metadata,
	}
	c.Errors = append(c.Errors, errMsg)
}

// PendingSleepInteractions returns a snapshot of every pending interaction
// of kind "sleep" whose WakeAt has passed as of now — the set
// internal/sleepsched polls for on each tick.
func (c *Context) PendingSleepInteractions(now time.Time) []*PendingInteraction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []*PendingInteraction
	for _, p := range c.PendingInteractions {
		if p.Kind == "sleep" && p.WakeAt != nil && !p.WakeAt.After(now) {
			due = append(due, p)
		}
	}
	return due
}

// SanitizeVariableName implements the variable-name sanitization rule of
// §4.6 step 10: lowercase, non-alnum -> "_", digit-start prefixed with "_"
// (an empty result becomes "node"). It does not resolve duplicates; that
// is publishNodeVariable's job.
func SanitizeVariableName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "node"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// publishNodeVariable stores a node's output under
// variables["_nodes"][key]. A key that is already taken gets the first free
// suffix _1, _2, ...; suffixes follow the order in which nodes publish
// (their completion order), not node_id order.
func (c *Context) publishNodeVariable(key string, outputs map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodesNS, _ := c.Variables["_nodes"].(map[string]interface{})
	if nodesNS == nil {
		nodesNS = make(map[string]interface{})
	}

	var value interface{} = outputs
	if len(outputs) == 1 {
		if v, ok := outputs["output"]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				value = m
			}
		}
	}

	finalKey := key
	if _, exists := nodesNS[finalKey]; exists {
		for i := 1; ; i++ {
			candidate := key + "_" + strconv.Itoa(i)
			if _, exists := nodesNS[candidate]; !exists {
				finalKey = candidate
				break
			}
		}
	}
	nodesNS[finalKey] = value
	c.Variables["_nodes"] = nodesNS
}

// sortedNodeIDs returns the ids in ascending lexical order. Nothing in the
// package calls it; publishNodeVariable does not sort.
func sortedNodeIDs(ids map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
