// Package queue wires the River job queue to the Orchestrator so a
// manually-started execution is durable across a process restart —
// adapted from the teacher's river.WorkflowExecutionArgs/Worker pair,
// generalized from single-pass engine invocation to the reactive
// Orchestrator's Execute signature.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/riverqueue/river"
)

// Engine is the subset of *engine.Orchestrator the worker needs. Kept as
// a local interface, not an import of internal/engine, to avoid a
// dependency cycle between queue and the packages that construct it.
type Engine interface {
	Execute(ctx context.Context, workflowID, executionID, startedBy string, triggerData map[string]interface{}) error
}

// WorkflowExecutionArgs is the durable job payload for one workflow run.
// TriggerData is carried as a JSON string since river.JobArgs values must
// themselves be JSON-serializable without custom marshaling surprises.
type WorkflowExecutionArgs struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	StartedBy   string `json:"started_by"`
	TriggerData string `json:"trigger_data"`
	TriggerType string `json:"trigger_type"`
}

func (WorkflowExecutionArgs) Kind() string { return "workflow_execution" }

// WorkflowExecutionWorker drives one durable execution through the
// Orchestrator when River pops its job.
type WorkflowExecutionWorker struct {
	river.WorkerDefaults[WorkflowExecutionArgs]
	Engine Engine
}

func NewWorkflowExecutionWorker(engine Engine) *WorkflowExecutionWorker {
	return &WorkflowExecutionWorker{Engine: engine}
}

func (w *WorkflowExecutionWorker) Work(ctx context.Context, job *river.Job[WorkflowExecutionArgs]) error {
	log.Printf("queue: processing workflow execution job workflow_id=%s execution_id=%s trigger=%s",
		job.Args.WorkflowID, job.Args.ExecutionID, job.Args.TriggerType)

	var triggerData map[string]interface{}
	if job.Args.TriggerData != "" {
		if err := json.Unmarshal([]byte(job.Args.TriggerData), &triggerData); err != nil {
			return fmt.Errorf("queue: invalid trigger data json: %w", err)
		}
	}

	if err := w.Engine.Execute(ctx, job.Args.WorkflowID, job.Args.ExecutionID, job.Args.StartedBy, triggerData); err != nil {
		return fmt.Errorf("queue: workflow execution failed: %w", err)
	}

	log.Printf("queue: workflow execution completed execution_id=%s", job.Args.ExecutionID)
	return nil
}
