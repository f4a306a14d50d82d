package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// CreateWorkflowRequest is the authoring payload for a new workflow,
// grounded on the teacher's WorkflowService.CreateWorkflow — trimmed of
// AccountID/CreatedBy since accounts are out of scope (SPEC_FULL Part D).
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"`
	Description *string                `json:"description"`
	Definition  map[string]interface{} `json:"definition"`
	Schedule    *string                `json:"schedule"`
	Timezone    *string                `json:"timezone"`
	IsActive    *bool                  `json:"isActive"`
}

// CreateWorkflow inserts a workflow and its first version in one
// transaction, mirroring the teacher's atomic create.
func (s *Store) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*Workflow, error) {
	timezone := "UTC"
	if req.Timezone != nil {
		timezone = *req.Timezone
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	definitionJSON, err := json.Marshal(req.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	var workflow Workflow
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workflow = Workflow{
			Name:           req.Name,
			Description:    req.Description,
			IsActive:       isActive,
			Schedule:       req.Schedule,
			Timezone:       timezone,
			CurrentVersion: 1,
		}
		if err := tx.Create(&workflow).Error; err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}

		changeLog := "initial version"
		version := WorkflowVersion{
			WorkflowID: workflow.ID,
			Version:    1,
			Definition: string(definitionJSON),
			ChangeLog:  &changeLog,
		}
		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("create workflow version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// UpdateDefinition authors a new version of an existing workflow,
// bumping CurrentVersion — execution always runs against the version a
// specific WorkflowExecution row was created with, so older in-flight
// executions are unaffected by this.
func (s *Store) UpdateDefinition(ctx context.Context, workflowID string, definition map[string]interface{}, changeLog string) (*Workflow, error) {
	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	var workflow Workflow
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&workflow, "id = ?", workflowID).Error; err != nil {
			return fmt.Errorf("workflow not found: %w", err)
		}

		nextVersion := workflow.CurrentVersion + 1
		cl := changeLog
		version := WorkflowVersion{
			WorkflowID: workflowID,
			Version:    nextVersion,
			Definition: string(definitionJSON),
			ChangeLog:  &cl,
		}
		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("create workflow version: %w", err)
		}

		if err := tx.Model(&workflow).Update("current_version", nextVersion).Error; err != nil {
			return fmt.Errorf("bump current version: %w", err)
		}
		workflow.CurrentVersion = nextVersion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	var workflow Workflow
	if err := s.DB.WithContext(ctx).First(&workflow, "id = ?", workflowID).Error; err != nil {
		return nil, fmt.Errorf("workflow %s not found: %w", workflowID, err)
	}
	return &workflow, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var workflows []Workflow
	if err := s.DB.WithContext(ctx).Order("created_at DESC").Find(&workflows).Error; err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return s.DB.WithContext(ctx).Delete(&Workflow{}, "id = ?", workflowID).Error
}

// ListExecutions lists an individual workflow's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, workflowID string, limit int) ([]WorkflowExecution, error) {
	var executions []WorkflowExecution
	err := s.DB.WithContext(ctx).Where("workflow_id = ?", workflowID).
		Order("started_at DESC").Limit(limit).Find(&executions).Error
	if err != nil {
		return nil, fmt.Errorf("list executions for workflow %s: %w", workflowID, err)
	}
	return executions, nil
}
