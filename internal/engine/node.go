package engine

import (
	"context"

	"github.com/patali/fluxgraph/internal/graph"
)

// Pool names. A node's CapabilitySet declares which of these it must hold
// while executing (§4.2).
const (
	PoolStandard = "standard"
	PoolLLM      = "llm"
	PoolAI       = "ai"
)

// NodeRunner lets an Agent-style node invoke a tool-only node on demand,
// re-entering the scheduler's single-node execution path (§4.5).
type NodeRunner func(ctx context.Context, targetNodeID string, inputsOverride, configOverride map[string]interface{}) (map[string]interface{}, error)

// SpawnFunc is how a trigger node asks the Orchestrator to start a one-shot
// execution of its workflow (§4.9).
type SpawnFunc func(ctx context.Context, workflowID string, triggerData map[string]interface{}, sourceTag string) error

// NodeExecutionInput is the per-invocation struct handed to Execute. It
// carries only the slices a node needs — no back-reference to the live
// execution context or scheduler, per the Design Notes' cyclic-reference
// remediation.
type NodeExecutionInput struct {
	Ports          map[string]interface{}
	WorkflowID     string
	ExecutionID    string
	NodeID         string
	Variables      map[string]interface{}
	Config         map[string]interface{}
	Credentials    map[string]map[string]interface{}
	NodeRunner     NodeRunner
	FrontendOrigin string
}

// Node is the abstract contract every concrete node implementation
// satisfies. The engine only ever depends on this interface plus the
// optional capability interfaces below — never on concrete node types.
type Node interface {
	InputPorts() []graph.Port
	OutputPorts() []graph.Port
	Execute(ctx context.Context, in *NodeExecutionInput) (map[string]interface{}, error)
}

// InteractionHandler is implemented by nodes that can pause for a human
// decision (§4.10). Declared via CapabilitySet.SupportsInteraction, not
// discovered by type-switch probing at dispatch time.
type InteractionHandler interface {
	HandleInteraction(ctx context.Context, action string, form map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, error)
}

// TriggerNode is implemented by nodes that monitor an external source and
// spawn executions (§4.9). config is the node's static authored config
// (cron expression, webhook path, and the like) — trigger nodes are
// instantiated fresh per activation via the Registry, so this is their only
// way to receive it.
type TriggerNode interface {
	StartMonitoring(ctx context.Context, workflowID string, config map[string]interface{}, spawn SpawnFunc) error
	StopMonitoring(ctx context.Context) error
}

// Cleaner is implemented by nodes holding a resource that must be released
// after execution regardless of outcome.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// CapabilitySet is declared once per node type at registration time. It
// replaces the source's runtime class-attribute inspection (see Design
// Notes): the engine dispatches through typed interfaces, and decides pool
// membership and optional-behavior eligibility from this struct alone, not
// from reflecting on the node instance.
type CapabilitySet struct {
	Pools               []string
	IsTrigger           bool
	SupportsInteraction bool
}

// Registration is one node type's factory plus its declared capabilities.
type Registration struct {
	NodeType     string
	Factory      func() Node
	Capabilities CapabilitySet
}

// Registry maps node_type to its Registration, populated at process startup.
type Registry struct {
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

func (r *Registry) Register(reg Registration) {
	r.entries[reg.NodeType] = reg
}

func (r *Registry) Lookup(nodeType string) (Registration, bool) {
	reg, ok := r.entries[nodeType]
	return reg, ok
}

func (r *Registry) New(nodeType string) (Node, CapabilitySet, error) {
	reg, ok := r.entries[nodeType]
	if !ok {
		return nil, CapabilitySet{}, &ConfigurationError{Message: "no node type registered: " + nodeType}
	}
	return reg.Factory(), reg.Capabilities, nil
}
