package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/patali/fluxgraph/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestCreateWorkflow_AndLoadDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	desc := "a test workflow"
	workflow, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		Name:        "greet",
		Description: &desc,
		Definition: map[string]interface{}{
			"workflowId": "greet",
			"name":       "greet",
			"nodes": []interface{}{
				map[string]interface{}{"nodeId": "start", "nodeType": "start"},
			},
			"connections": []interface{}{},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, workflow.CurrentVersion)

	def, err := s.LoadDefinition(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "greet", def.Name)
	require.Len(t, def.Nodes, 1)
	assert.Equal(t, "start", def.Nodes[0].NodeID)
}

func TestUpdateDefinition_BumpsVersionWithoutLosingOldVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workflow, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		Name:       "wf",
		Definition: map[string]interface{}{"workflowId": "wf", "name": "wf"},
	})
	require.NoError(t, err)

	updated, err := s.UpdateDefinition(ctx, workflow.ID, map[string]interface{}{"workflowId": "wf", "name": "wf-v2"}, "added a node")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentVersion)

	def, err := s.LoadDefinition(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-v2", def.Name)

	var oldVersion WorkflowVersion
	require.NoError(t, s.DB.Where("workflow_id = ? AND version = ?", workflow.ID, 1).First(&oldVersion).Error)
}

func TestLoadDefinition_UnknownWorkflow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadDefinition(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestExecutionLifecycle_CreateUpdateStatusAndCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workflow, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{
		Name:       "wf",
		Definition: map[string]interface{}{"workflowId": "wf", "name": "wf"},
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateExecution(ctx, "exec-1", workflow.ID, "api", "manual", 1, map[string]interface{}{"k": "v"}))

	now := time.Now().UTC()
	result := &engine.NodeResult{
		Success:     true,
		Outputs:     map[string]interface{}{"output": "hello"},
		StartedAt:   now,
		CompletedAt: &now,
	}
	require.NoError(t, s.UpdateNodeResult(ctx, "exec-1", "node-a", result))

	// Upsert: a second call for the same node updates rather than duplicates.
	result.Outputs = map[string]interface{}{"output": "hello again"}
	require.NoError(t, s.UpdateNodeResult(ctx, "exec-1", "node-a", result))

	var count int64
	require.NoError(t, s.DB.Model(&WorkflowNodeExecution{}).Where("execution_id = ? AND node_id = ?", "exec-1", "node-a").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, s.UpdateStatus(ctx, "exec-1", engine.StatusCompleted, ""))

	var exec WorkflowExecution
	require.NoError(t, s.DB.First(&exec, "id = ?", "exec-1").Error)
	assert.Equal(t, string(engine.StatusCompleted), exec.Status)
	assert.NotNil(t, exec.CompletedAt)

	_, total, checkpoint, err := s.LoadCheckpoint(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, checkpoint, 1)
	assert.Equal(t, "node-a", checkpoint[0].NodeID)
	assert.Equal(t, "hello again", checkpoint[0].Outputs["output"])
}

func TestUpdateStatus_FailedRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	workflow, err := s.CreateWorkflow(ctx, CreateWorkflowRequest{Name: "wf", Definition: map[string]interface{}{}})
	require.NoError(t, err)
	require.NoError(t, s.CreateExecution(ctx, "exec-2", workflow.ID, "api", "manual", 1, nil))

	require.NoError(t, s.UpdateStatus(ctx, "exec-2", engine.StatusFailed, "node-b: boom"))

	var exec WorkflowExecution
	require.NoError(t, s.DB.First(&exec, "id = ?", "exec-2").Error)
	assert.Equal(t, string(engine.StatusFailed), exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, "node-b: boom", *exec.Error)
}

func TestSleepScheduleLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, s.RecordSleepSchedule(ctx, "exec-1", "wf-1", "node-sleep", "interaction-due", past))
	require.NoError(t, s.RecordSleepSchedule(ctx, "exec-1", "wf-1", "node-sleep-2", "interaction-not-due", future))

	due, err := s.DueSleepSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "interaction-due", due[0].InteractionID)

	require.NoError(t, s.DeleteSleepSchedule(ctx, "interaction-due"))

	var count int64
	require.NoError(t, s.DB.Model(&SleepSchedule{}).Where("interaction_id = ?", "interaction-due").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
