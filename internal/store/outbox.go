package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateOutboxMessage persists one queued side effect, grounded on the
// teacher's OutboxService.ExecuteNodeWithOutbox — generalized to take an
// already-known node-execution id rather than creating that row itself,
// since the reactive engine's own UpdateNodeResult already owns that
// write.
func (s *Store) CreateOutboxMessage(nodeExecutionID, eventType string, payload map[string]interface{}) (*OutboxMessage, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	now := time.Now().UTC()
	msg := OutboxMessage{
		NodeExecutionID: nodeExecutionID,
		EventType:       eventType,
		Payload:         string(payloadJSON),
		Status:          "pending",
		IdempotencyKey:  fmt.Sprintf("%s-%s-%d", nodeExecutionID, eventType, now.UnixNano()),
		MaxAttempts:     5,
		NextRetryAt:     &now,
	}
	if err := s.DB.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("create outbox message: %w", err)
	}
	return &msg, nil
}

// PendingOutboxMessages returns messages ready for dispatch, oldest first.
func (s *Store) PendingOutboxMessages(limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	now := time.Now().UTC()
	err := s.DB.Where("status = ? AND next_retry_at <= ?", "pending", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	return messages, nil
}

// MarkOutboxProcessing flags a message as in-flight and bumps its attempt
// counter, mirroring the teacher's MarkMessageProcessing.
func (s *Store) MarkOutboxProcessing(messageID string) error {
	now := time.Now().UTC()
	return s.DB.Model(&OutboxMessage{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"status":          "processing",
			"last_attempt_at": now,
			"attempts":        gorm.Expr("attempts + 1"),
		}).Error
}

// MarkOutboxCompleted flags a message as delivered.
func (s *Store) MarkOutboxCompleted(messageID string) error {
	now := time.Now().UTC()
	return s.DB.Model(&OutboxMessage{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"status":       "completed",
			"processed_at": now,
		}).Error
}

// MarkOutboxFailed records a delivery failure, scheduling an exponential
// backoff retry or moving the message to the dead_letter status once
// MaxAttempts is exhausted — grounded on the teacher's MarkMessageFailed,
// same doubling schedule capped at one hour.
func (s *Store) MarkOutboxFailed(messageID, errMsg string) error {
	var msg OutboxMessage
	if err := s.DB.First(&msg, "id = ?", messageID).Error; err != nil {
		return fmt.Errorf("load outbox message %s: %w", messageID, err)
	}

	updates := map[string]interface{}{"last_error": errMsg}
	if msg.Attempts < msg.MaxAttempts {
		backoff := time.Duration(1<<uint(msg.Attempts)) * time.Minute
		if backoff > time.Hour {
			backoff = time.Hour
		}
		next := time.Now().UTC().Add(backoff)
		updates["status"] = "pending"
		updates["next_retry_at"] = next
	} else {
		updates["status"] = "dead_letter"
		updates["next_retry_at"] = nil
	}

	return s.DB.Model(&OutboxMessage{}).Where("id = ?", messageID).Updates(updates).Error
}

// OutboxIntegrity reports message counts by status, for an operator
// dashboard or health check.
func (s *Store) OutboxIntegrity() (map[string]int64, error) {
	result := make(map[string]int64)
	for _, status := range []string{"pending", "processing", "completed", "dead_letter"} {
		var count int64
		if err := s.DB.Model(&OutboxMessage{}).Where("status = ?", status).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count outbox status %s: %w", status, err)
		}
		result[status] = count
	}
	return result, nil
}

// DeadLetterMessages lists permanently failed outbox messages, newest
// first, grounded on the teacher's RecoveryController.GetDeadLetterMessages.
func (s *Store) DeadLetterMessages(limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := s.DB.Where("status = ?", "dead_letter").
		Order("last_attempt_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("fetch dead letter messages: %w", err)
	}
	return messages, nil
}

// RetryDeadLetterMessage resets a dead-letter message back to pending,
// for an operator to force redelivery.
func (s *Store) RetryDeadLetterMessage(messageID string) error {
	now := time.Now().UTC()
	return s.DB.Model(&OutboxMessage{}).
		Where("id = ? AND status = ?", messageID, "dead_letter").
		Updates(map[string]interface{}{
			"status":          "pending",
			"attempts":        0,
			"next_retry_at":   now,
			"last_error":      nil,
			"last_attempt_at": nil,
		}).Error
}

// FailedExecutions lists workflow executions in the failed status, newest
// first — the recovery dashboard's primary view.
func (s *Store) FailedExecutions(limit int) ([]WorkflowExecution, error) {
	var executions []WorkflowExecution
	err := s.DB.Where("status = ?", "failed").
		Order("started_at DESC").
		Limit(limit).
		Find(&executions).Error
	if err != nil {
		return nil, fmt.Errorf("fetch failed executions: %w", err)
	}
	return executions, nil
}
