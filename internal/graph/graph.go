// Package graph builds the per-execution dependency graph from a workflow
// definition: node metadata, adjacency, remaining-dependency counters, loop
// back-edges and the tool-only node set.
package graph

import "fmt"

// Phase is a node's execution state within one iteration of one execution.
type Phase string

const (
	PhasePending             Phase = "pending"
	PhaseReady               Phase = "ready"
	PhaseExecuting           Phase = "executing"
	PhaseCompleted           Phase = "completed"
	PhaseFailed              Phase = "failed"
	PhaseStopped             Phase = "stopped"
	PhaseSkipped             Phase = "skipped"
	PhaseAwaitingInteraction Phase = "awaiting_interaction"
)

// Port type tags. Advisory only — the engine never enforces them.
const (
	PortUniversal = "universal"
	PortText      = "text"
	PortSignal    = "signal"
	PortDocument  = "document"
	PortImage     = "image"
	PortAudio     = "audio"
	PortVideo     = "video"
)

// ToolsPort is the sentinel target-port name that marks a tool-only edge.
// See the Open Questions note in SPEC_FULL.md: this stays a naming
// convention rather than a typed port kind, matching the source fidelity
// call made there.
const ToolsPort = "tools"

// Port describes one named input or output of a node type.
type Port struct {
	Name     string
	Type     string
	Required bool
}

// NodeConfig is one node's static configuration as authored in the workflow.
type NodeConfig struct {
	NodeID                string
	NodeType              string
	Name                  string
	Category              string
	Config                map[string]interface{}
	ShareOutputToVariable bool
	VariableName          string
}

// Connection is a directed edge from a source node's output port to a
// target node's input port.
type Connection struct {
	ConnectionID   string
	SourceNodeID   string
	SourcePort     string
	TargetNodeID   string
	TargetPort     string
	Metadata       map[string]string
}

// Definition is the immutable workflow definition: nodes, connections,
// variables and execution-constraint overrides.
type Definition struct {
	WorkflowID           string
	Name                 string
	Nodes                []NodeConfig
	Connections          []Connection
	Variables            map[string]interface{}
	ExecutionConstraints map[string]interface{}
}

// InputConnection is a connection as seen from its target's perspective.
type InputConnection struct {
	SourceNodeID string
	SourcePort   string
	TargetPort   string
}

// Node is one graph-builder entry: everything the scheduler needs about a
// single workflow node for one execution.
type Node struct {
	NodeID               string
	RemainingDeps        int
	Dependents           []string // ordered, de-duplicated
	dependentSet         map[string]bool
	InputConnections     []InputConnection
	LoopBackDependencies []InputConnection
	Phase                Phase
}

// Graph is the per-execution dependency graph built from a Definition.
type Graph struct {
	Definition *Definition
	Nodes      map[string]*Node
	Configs    map[string]*NodeConfig

	CompletedNodes map[string]bool
	FailedNodes    map[string]bool
	SkippedNodes   map[string]bool

	LoopBackEdges        []Connection
	ToolsMemoryOnlyNodes map[string]bool
	HasLoops             bool
}

func newNode(id string) *Node {
	return &Node{
		NodeID:       id,
		dependentSet: make(map[string]bool),
		Phase:        PhasePending,
	}
}

func (n *Node) addDependent(id string) {
	if n.dependentSet[id] {
		return
	}
	n.dependentSet[id] = true
	n.Dependents = append(n.Dependents, id)
}

// Build constructs an Execution Graph from a workflow Definition.
//
// Step order follows §4.1: allocate entries, wire connections, detect
// back-edges via DFS, compute the tool-only node set, set HasLoops.
func Build(def *Definition) (*Graph, error) {
	g := &Graph{
		Definition:           def,
		Nodes:                make(map[string]*Node),
		Configs:              make(map[string]*NodeConfig),
		CompletedNodes:       make(map[string]bool),
		FailedNodes:          make(map[string]bool),
		SkippedNodes:         make(map[string]bool),
		ToolsMemoryOnlyNodes: make(map[string]bool),
	}

	for i := range def.Nodes {
		nc := def.Nodes[i]
		if _, exists := g.Nodes[nc.NodeID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", nc.NodeID)
		}
		g.Nodes[nc.NodeID] = newNode(nc.NodeID)
		g.Configs[nc.NodeID] = &nc
	}

	adjacency := make(map[string][]Connection) // source -> outgoing connections, definition order

	for _, c := range def.Connections {
		src, ok := g.Nodes[c.SourceNodeID]
		if !ok {
			return nil, fmt.Errorf("connection %s references unknown source node %q", c.ConnectionID, c.SourceNodeID)
		}
		tgt, ok := g.Nodes[c.TargetNodeID]
		if !ok {
			return nil, fmt.Errorf("connection %s references unknown target node %q", c.ConnectionID, c.TargetNodeID)
		}

		tgt.InputConnections = append(tgt.InputConnections, InputConnection{
			SourceNodeID: c.SourceNodeID,
			SourcePort:   c.SourcePort,
			TargetPort:   c.TargetPort,
		})
		src.addDependent(c.TargetNodeID)

		// Tools-port edges never gate readiness: a tool-only source node is
		// never auto-scheduled, so counting it would deadlock the consumer.
		if c.TargetPort != ToolsPort {
			tgt.RemainingDeps++
		}

		adjacency[c.SourceNodeID] = append(adjacency[c.SourceNodeID], c)
	}

	g.detectLoopBackEdges(adjacency)
	g.computeToolsMemoryOnlyNodes(adjacency)
	g.HasLoops = len(g.LoopBackEdges) > 0

	return g, nil
}

// detectLoopBackEdges runs a DFS over the dependent graph; an edge to a node
// currently on the DFS stack is a back-edge (cycle). Back-edges are recorded
// on the graph and on the target's LoopBackDependencies, and their
// contribution to the target's initial RemainingDeps is undone: the target
// (the loop-entry node) must be reachable on the very first iteration,
// before the edge's source (typically the loop's closing decision node) has
// ever executed.
func (g *Graph) detectLoopBackEdges(adjacency map[string][]Connection) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var ids []string
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	// Deterministic traversal order: definition order of nodes.
	ids = ids[:0]
	for _, nc := range g.Definition.Nodes {
		ids = append(ids, nc.NodeID)
	}

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		for _, c := range adjacency[id] {
			switch color[c.TargetNodeID] {
			case white:
				visit(c.TargetNodeID)
			case gray:
				g.recordBackEdge(c)
			}
		}
		color[id] = black
	}

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
}

func (g *Graph) recordBackEdge(c Connection) {
	g.LoopBackEdges = append(g.LoopBackEdges, c)
	tgt := g.Nodes[c.TargetNodeID]
	tgt.LoopBackDependencies = append(tgt.LoopBackDependencies, InputConnection{
		SourceNodeID: c.SourceNodeID,
		SourcePort:   c.SourcePort,
		TargetPort:   c.TargetPort,
	})
	if c.TargetPort != ToolsPort {
		tgt.RemainingDeps--
		if tgt.RemainingDeps < 0 {
			tgt.RemainingDeps = 0
		}
	}
}

// computeToolsMemoryOnlyNodes marks every node whose outgoing edges all
// target a "tools" port. Such nodes are never auto-scheduled; an Agent node
// invokes them on demand through the node-runner callback (§4.5).
func (g *Graph) computeToolsMemoryOnlyNodes(adjacency map[string][]Connection) {
	for id := range g.Nodes {
		out := adjacency[id]
		if len(out) == 0 {
			continue
		}
		allTools := true
		for _, c := range out {
			if c.TargetPort != ToolsPort {
				allTools = false
				break
			}
		}
		if allTools {
			g.ToolsMemoryOnlyNodes[id] = true
		}
	}
}

// IsToolOnly reports whether a node is tool-memory-only and must never be
// auto-scheduled by the reactive scheduler.
func (g *Graph) IsToolOnly(nodeID string) bool {
	return g.ToolsMemoryOnlyNodes[nodeID]
}

// ReadyNodes returns the node ids currently eligible to run: remaining
// dependencies resolved, still pending, and not tool-only.
func (g *Graph) ReadyNodes() []string {
	var ready []string
	for _, nc := range g.Definition.Nodes {
		n := g.Nodes[nc.NodeID]
		if n.Phase == PhasePending && n.RemainingDeps <= 0 && !g.IsToolOnly(nc.NodeID) {
			ready = append(ready, nc.NodeID)
		}
	}
	return ready
}

// EffectiveTotal is the total node count minus skipped nodes — the
// denominator for progress percent (§6).
func (g *Graph) EffectiveTotal() int {
	return len(g.Nodes) - len(g.SkippedNodes)
}
