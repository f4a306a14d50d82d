// Package store is the GORM-backed persistence layer: the concrete
// implementation of engine.WorkflowSource, engine.ExecutionRecorder and
// trigger.WorkflowLoader, plus the models those interfaces read and write.
// Adapted from the teacher's src/db/models package — same table shapes,
// generalized to carry the reactive engine's checkpoint and interaction
// data instead of the teacher's single-pass executor's state.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Workflow struct {
	ID             string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    *string   `json:"description,omitempty"`
	IsActive       bool      `gorm:"default:true" json:"isActive"`
	Schedule       *string   `json:"schedule,omitempty"`
	Timezone       string    `gorm:"default:UTC" json:"timezone"`
	CurrentVersion int       `gorm:"default:1" json:"currentVersion"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Workflow) TableName() string { return "workflows" }

func (w *Workflow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// WorkflowVersion stores one immutable authored graph.Definition, JSON
// encoded. Execution always runs against a specific version so in-flight
// executions are unaffected by a concurrent edit.
type WorkflowVersion struct {
	ID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID string    `gorm:"type:uuid;not null;index" json:"workflowId"`
	Version    int       `gorm:"not null" json:"version"`
	Definition string    `gorm:"type:text;not null" json:"definition"`
	ChangeLog  *string   `json:"changeLog,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (WorkflowVersion) TableName() string { return "workflow_versions" }

func (wv *WorkflowVersion) BeforeCreate(tx *gorm.DB) error {
	if wv.ID == "" {
		wv.ID = uuid.New().String()
	}
	return nil
}

type WorkflowExecution struct {
	ID          string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID  string     `gorm:"type:uuid;not null;index" json:"workflowId"`
	Version     int        `gorm:"not null" json:"version"`
	Status      string     `gorm:"not null" json:"status"`
	TriggerType string     `gorm:"not null" json:"triggerType"`
	StartedBy   string     `json:"startedBy"`
	TriggerData *string    `gorm:"type:text" json:"triggerData,omitempty"`
	Error       *string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"autoCreateTime" json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (WorkflowExecution) TableName() string { return "workflow_executions" }

func (we *WorkflowExecution) BeforeCreate(tx *gorm.DB) error {
	if we.ID == "" {
		we.ID = uuid.New().String()
	}
	return nil
}

// WorkflowNodeExecution is one node's recorded outcome within an execution
// — the row applyCheckpoint reconstitutes into engine.CheckpointNode on
// resume.
type WorkflowNodeExecution struct {
	ID          string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID string     `gorm:"type:uuid;not null;index" json:"executionId"`
	NodeID      string     `gorm:"not null" json:"nodeId"`
	Success     bool       `json:"success"`
	Outputs     *string    `gorm:"type:text" json:"outputs,omitempty"`
	Error       *string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (WorkflowNodeExecution) TableName() string { return "workflow_node_executions" }

func (wne *WorkflowNodeExecution) BeforeCreate(tx *gorm.DB) error {
	if wne.ID == "" {
		wne.ID = uuid.New().String()
	}
	return nil
}

// OutboxMessage is one queued async side effect (email/slack send) awaiting
// delivery, with retry bookkeeping for internal/outbox's worker.
type OutboxMessage struct {
	ID              string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	NodeExecutionID string     `gorm:"type:uuid;not null;index" json:"nodeExecutionId"`
	EventType       string     `gorm:"not null" json:"eventType"`
	Payload         string     `gorm:"type:text;not null" json:"payload"`
	Status          string     `gorm:"default:pending;index:idx_outbox_status_retry" json:"status"`
	IdempotencyKey  string     `gorm:"uniqueIndex;not null" json:"idempotencyKey"`
	Attempts        int        `gorm:"default:0" json:"attempts"`
	MaxAttempts     int        `gorm:"default:5" json:"maxAttempts"`
	LastError       *string    `gorm:"type:text" json:"lastError,omitempty"`
	LastAttemptAt   *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt     *time.Time `gorm:"index:idx_outbox_status_retry" json:"nextRetryAt,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
}

func (OutboxMessage) TableName() string { return "outbox_messages" }

func (om *OutboxMessage) BeforeCreate(tx *gorm.DB) error {
	if om.ID == "" {
		om.ID = uuid.New().String()
	}
	return nil
}

// SleepSchedule durably records a delay node's wake-up. internal/sleepsched
// does not read these rows; it polls the Orchestrator's in-memory pending
// interactions (see DESIGN.md).
type SleepSchedule struct {
	ID            string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID   string    `gorm:"type:uuid;not null;index" json:"executionId"`
	WorkflowID    string    `gorm:"type:uuid;not null" json:"workflowId"`
	NodeID        string    `gorm:"not null" json:"nodeId"`
	InteractionID string    `gorm:"not null;uniqueIndex" json:"interactionId"`
	WakeUpAt      time.Time `gorm:"not null;index" json:"wakeUpAt"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SleepSchedule) TableName() string { return "workflow_sleep_schedules" }

func (ss *SleepSchedule) BeforeCreate(tx *gorm.DB) error {
	if ss.ID == "" {
		ss.ID = uuid.New().String()
	}
	return nil
}

// Interaction is the persisted record of a human-interaction pause (§4.10),
// kept for audit/listing. The live resume path still depends on the
// Orchestrator's in-memory active-execution map — the same restart
// limitation the teacher's own paused-in-memory design has, see DESIGN.md.
type Interaction struct {
	ID              string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID     string     `gorm:"type:uuid;not null;index" json:"executionId"`
	NodeID          string     `gorm:"not null" json:"nodeId"`
	InteractionID   string     `gorm:"not null;uniqueIndex" json:"interactionId"`
	InteractionType string     `json:"interactionType"`
	Status          string     `gorm:"default:pending" json:"status"` // pending, resolved, timed_out
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

func (Interaction) TableName() string { return "workflow_interactions" }

func (i *Interaction) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// Credential is an encrypted-at-rest integration secret (API keys, SMTP
// passwords) resolved at node-execution time by internal/credentials.
type Credential struct {
	ID            int       `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"not null" json:"name"`
	Provider      string    `gorm:"not null" json:"provider"`
	EncryptedData string    `gorm:"type:text;not null" json:"-"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Credential) TableName() string { return "credentials" }
