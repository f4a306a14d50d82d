// Package store wires the models in this package into the engine's
// persistence boundary: engine.WorkflowSource, engine.ExecutionRecorder
// and trigger.WorkflowLoader. Grounded on the teacher's src/db package —
// a *gorm.DB held by a thin wrapper, no ORM abstraction beyond that.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// Store is the concrete persistence boundary. It satisfies
// engine.WorkflowSource, engine.ExecutionRecorder and trigger.WorkflowLoader
// simultaneously — cmd/server wires the same *Store into all three.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

// AutoMigrate creates/updates every table this package owns. Called at
// startup by cmd/migrate (mirroring the teacher's migration entrypoint) and
// by cmd/server.
func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&Workflow{},
		&WorkflowVersion{},
		&WorkflowExecution{},
		&WorkflowNodeExecution{},
		&OutboxMessage{},
		&SleepSchedule{},
		&Interaction{},
		&Credential{},
	)
}

// LoadDefinition implements engine.WorkflowSource and trigger.WorkflowLoader:
// both interfaces are identical by design, see SPEC_FULL Part C — a single
// authoritative source for "what does this workflow currently look like".
func (s *Store) LoadDefinition(ctx context.Context, workflowID string) (*graph.Definition, error) {
	var wf Workflow
	if err := s.DB.WithContext(ctx).First(&wf, "id = ?", workflowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workflow %s not found", workflowID)
		}
		return nil, err
	}

	var version WorkflowVersion
	if err := s.DB.WithContext(ctx).
		Where("workflow_id = ? AND version = ?", workflowID, wf.CurrentVersion).
		First(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workflow %s has no version %d", workflowID, wf.CurrentVersion)
		}
		return nil, err
	}

	var def graph.Definition
	if err := json.Unmarshal([]byte(version.Definition), &def); err != nil {
		return nil, fmt.Errorf("workflow %s version %d: invalid definition json: %w", workflowID, wf.CurrentVersion, err)
	}
	return &def, nil
}

// LoadCheckpoint implements engine.ExecutionRecorder: it reconstitutes the
// set of already-completed nodes for a resumed execution (§4.9/§6) from the
// node-execution rows this same Store wrote via UpdateNodeResult.
func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) (time.Time, int, []engine.CheckpointNode, error) {
	var exec WorkflowExecution
	if err := s.DB.WithContext(ctx).First(&exec, "id = ?", executionID).Error; err != nil {
		return time.Time{}, 0, nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	var rows []WorkflowNodeExecution
	if err := s.DB.WithContext(ctx).
		Where("execution_id = ? AND success = ?", executionID, true).
		Find(&rows).Error; err != nil {
		return time.Time{}, 0, nil, fmt.Errorf("load node executions for %s: %w", executionID, err)
	}

	checkpoint := make([]engine.CheckpointNode, 0, len(rows))
	for _, row := range rows {
		outputs := map[string]interface{}{}
		if row.Outputs != nil && *row.Outputs != "" {
			if err := json.Unmarshal([]byte(*row.Outputs), &outputs); err != nil {
				return time.Time{}, 0, nil, fmt.Errorf("node %s outputs: invalid json: %w", row.NodeID, err)
			}
		}
		checkpoint = append(checkpoint, engine.CheckpointNode{NodeID: row.NodeID, Outputs: outputs})
	}

	return exec.StartedAt, len(checkpoint), checkpoint, nil
}

// UpdateStatus implements engine.ExecutionRecorder, recording the
// execution's terminal or in-flight lifecycle state.
func (s *Store) UpdateStatus(ctx context.Context, executionID string, status engine.Status, errMsg string) error {
	updates := map[string]interface{}{"status": string(status)}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if status == engine.StatusCompleted || status == engine.StatusFailed || status == engine.StatusStopped {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}
	return s.DB.WithContext(ctx).Model(&WorkflowExecution{}).
		Where("id = ?", executionID).
		Updates(updates).Error
}

// UpdateNodeResult implements engine.ExecutionRecorder, upserting one
// node's outcome — the row LoadCheckpoint later reads back on resume.
func (s *Store) UpdateNodeResult(ctx context.Context, executionID string, nodeID string, result *engine.NodeResult) error {
	outputsJSON, err := json.Marshal(result.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs for node %s: %w", nodeID, err)
	}
	outputsStr := string(outputsJSON)

	var errPtr *string
	if result.Error != "" {
		errPtr = &result.Error
	}

	row := WorkflowNodeExecution{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Success:     result.Success,
		Outputs:     &outputsStr,
		Error:       errPtr,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}

	var existing WorkflowNodeExecution
	err = s.DB.WithContext(ctx).
		Where("execution_id = ? AND node_id = ?", executionID, nodeID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.DB.WithContext(ctx).Create(&row).Error
	case err != nil:
		return fmt.Errorf("lookup node execution for %s/%s: %w", executionID, nodeID, err)
	default:
		row.ID = existing.ID
		return s.DB.WithContext(ctx).Model(&existing).Updates(&row).Error
	}
}

// CreateExecution inserts the initial WorkflowExecution row, called by the
// internal/api start-execution handler before it enqueues or runs the
// execution.
func (s *Store) CreateExecution(ctx context.Context, executionID, workflowID, startedBy, triggerType string, version int, triggerData map[string]interface{}) error {
	var triggerJSON *string
	if triggerData != nil {
		b, err := json.Marshal(triggerData)
		if err != nil {
			return fmt.Errorf("marshal trigger data: %w", err)
		}
		s := string(b)
		triggerJSON = &s
	}
	exec := WorkflowExecution{
		ID:          executionID,
		WorkflowID:  workflowID,
		Version:     version,
		Status:      string(engine.StatusPending),
		TriggerType: triggerType,
		StartedBy:   startedBy,
		TriggerData: triggerJSON,
	}
	return s.DB.WithContext(ctx).Create(&exec).Error
}

// RecordSleepSchedule persists a delay node's wake-up in
// workflow_sleep_schedules. The delay node does not call it, and
// internal/sleepsched polls the Orchestrator's in-memory pending
// interactions rather than these rows.
func (s *Store) RecordSleepSchedule(ctx context.Context, executionID, workflowID, nodeID, interactionID string, wakeAt time.Time) error {
	row := SleepSchedule{
		ExecutionID:   executionID,
		WorkflowID:    workflowID,
		NodeID:        nodeID,
		InteractionID: interactionID,
		WakeUpAt:      wakeAt,
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

// DueSleepSchedules returns every persisted sleep whose wake-up time has
// passed. internal/sleepsched does not read it.
func (s *Store) DueSleepSchedules(ctx context.Context, now time.Time) ([]SleepSchedule, error) {
	var rows []SleepSchedule
	err := s.DB.WithContext(ctx).Where("wake_up_at <= ?", now).Find(&rows).Error
	return rows, err
}

// DeleteSleepSchedule removes the persisted sleep record for
// interactionID.
func (s *Store) DeleteSleepSchedule(ctx context.Context, interactionID string) error {
	return s.DB.WithContext(ctx).Where("interaction_id = ?", interactionID).Delete(&SleepSchedule{}).Error
}

// RecordInteraction persists a human-interaction pause for audit/listing
// (§4.10). It does not participate in the live resume path — that still
// depends on the Orchestrator's in-memory active-execution map.
func (s *Store) RecordInteraction(ctx context.Context, executionID, nodeID, interactionID, interactionType string) error {
	row := Interaction{
		ExecutionID:     executionID,
		NodeID:          nodeID,
		InteractionID:   interactionID,
		InteractionType: interactionType,
		Status:          "pending",
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

// ResolveInteraction marks a persisted interaction resolved once Resume
// has driven it to completion.
func (s *Store) ResolveInteraction(ctx context.Context, interactionID string) error {
	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Model(&Interaction{}).
		Where("interaction_id = ?", interactionID).
		Updates(map[string]interface{}{"status": "resolved", "resolved_at": &now}).Error
}
