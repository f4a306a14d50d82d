// Package trigger implements the Trigger Manager (§4.9): activation and
// deactivation of persistent workflows' trigger nodes, and the
// spawn_callback bridge that turns a fired trigger into a one-shot
// execution via the Orchestrator.
package trigger

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// Spawner is the subset of Orchestrator the manager needs: starting a
// one-shot execution on a trigger fire. A fresh execution id is minted by
// the IDFunc passed to NewManager (typically a uuid generator), kept out of
// this package to avoid a dependency on execution-id policy.
type Spawner interface {
	Execute(ctx context.Context, workflowID, executionID, startedBy string, triggerData map[string]interface{}) error
}

// WorkflowLoader resolves a workflow id to its current graph Definition,
// the same source the Orchestrator itself uses.
type WorkflowLoader interface {
	LoadDefinition(ctx context.Context, workflowID string) (*graph.Definition, error)
}

// IDFunc mints a fresh execution id for each trigger fire.
type IDFunc func() string

// Manager is the process-wide singleton described in §4.9: one instance
// serves every persistent workflow, with per-workflow mutual exclusion on
// activate/deactivate and parallel activation across distinct workflows.
type Manager struct {
	Registry  *engine.Registry
	Workflows WorkflowLoader
	Spawner   Spawner
	NewID     IDFunc

	mu       sync.Mutex
	workflow map[string]*workflowLocks
	active   map[string]*activation
}

type workflowLocks struct {
	mu sync.Mutex
}

type activation struct {
	cancel context.CancelFunc
	nodes  []engine.TriggerNode
}

func NewManager(registry *engine.Registry, workflows WorkflowLoader, spawner Spawner, newID IDFunc) *Manager {
	return &Manager{
		Registry:  registry,
		Workflows: workflows,
		Spawner:   spawner,
		NewID:     newID,
		workflow:  make(map[string]*workflowLocks),
		active:    make(map[string]*activation),
	}
}

func (m *Manager) lockFor(workflowID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	wl, ok := m.workflow[workflowID]
	if !ok {
		wl = &workflowLocks{}
		m.workflow[workflowID] = wl
	}
	return &wl.mu
}

// Activate instantiates every trigger-category node in workflowID's
// definition and starts its monitoring task. Idempotent: activating an
// already-active workflow is a no-op.
func (m *Manager) Activate(ctx context.Context, workflowID string) error {
	lock := m.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	if m.IsWorkflowActive(workflowID) {
		return nil
	}

	def, err := m.Workflows.LoadDefinition(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("activate %s: %w", workflowID, err)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	ae := &activation{cancel: cancel}

	for _, nc := range def.Nodes {
		if nc.Category != "triggers" {
			continue
		}
		node, caps, err := m.Registry.New(nc.NodeType)
		if err != nil {
			cancel()
			return fmt.Errorf("activate %s: node %s: %w", workflowID, nc.NodeID, err)
		}
		if !caps.IsTrigger {
			continue
		}
		trigger, ok := node.(engine.TriggerNode)
		if !ok {
			cancel()
			return fmt.Errorf("activate %s: node %s declared IsTrigger without implementing TriggerNode", workflowID, nc.NodeID)
		}

		spawn := m.spawnFuncFor(workflowID)
		if err := trigger.StartMonitoring(monitorCtx, workflowID, nc.Config, spawn); err != nil {
			cancel()
			return fmt.Errorf("activate %s: start_monitoring %s: %w", workflowID, nc.NodeID, err)
		}
		ae.nodes = append(ae.nodes, trigger)
		log.Printf("▶️  trigger activated workflow=%s node=%s type=%s", workflowID, nc.NodeID, nc.NodeType)
	}

	if len(ae.nodes) == 0 {
		cancel()
		return fmt.Errorf("activate %s: no trigger nodes found", workflowID)
	}

	m.mu.Lock()
	m.active[workflowID] = ae
	m.mu.Unlock()
	return nil
}

// Deactivate stops every active trigger node for workflowID and cancels
// its monitoring context. Idempotent: deactivating an inactive workflow is
// a no-op. In-flight executions spawned by the trigger are not cancelled
// here — the caller is expected to separately invoke the Orchestrator's
// Cancel for any execution ids it tracks, per §4.9's "cancel any in-flight
// executions tied to the workflow".
func (m *Manager) Deactivate(ctx context.Context, workflowID string) error {
	lock := m.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	ae, ok := m.active[workflowID]
	if ok {
		delete(m.active, workflowID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	var firstErr error
	for _, trigger := range ae.nodes {
		if err := trigger.StopMonitoring(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ae.cancel()
	log.Printf("⏹️  trigger deactivated workflow=%s", workflowID)
	return firstErr
}

// IsWorkflowActive reports whether workflowID currently has an active
// trigger set.
func (m *Manager) IsWorkflowActive(workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[workflowID]
	return ok
}

// spawnFuncFor builds the engine.SpawnFunc a trigger node calls when its
// condition fires: it mints a fresh execution id and asks the Orchestrator
// to run a one-shot execution, independent of the trigger's own monitoring
// task (§4.9: "spawned executions run independently and do not block the
// trigger").
func (m *Manager) spawnFuncFor(workflowID string) engine.SpawnFunc {
	return func(ctx context.Context, spawnedWorkflowID string, triggerData map[string]interface{}, sourceTag string) error {
		executionID := m.NewID()
		log.Printf("🔥 trigger fired workflow=%s execution=%s source=%s", spawnedWorkflowID, executionID, sourceTag)
		go func() {
			if err := m.Spawner.Execute(context.Background(), spawnedWorkflowID, executionID, "trigger:"+sourceTag, triggerData); err != nil {
				log.Printf("❌ spawned execution failed workflow=%s execution=%s: %v", spawnedWorkflowID, executionID, err)
			}
		}()
		return nil
	}
}
