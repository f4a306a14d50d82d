package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndFetchPendingOutboxMessage(t *testing.T) {
	s := newTestStore(t)

	msg, err := s.CreateOutboxMessage("node-exec-1", "email.send", map[string]interface{}{"to": "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "pending", msg.Status)

	pending, err := s.PendingOutboxMessages(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
}

func TestMarkOutboxProcessingThenCompleted(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.CreateOutboxMessage("node-exec-1", "email.send", map[string]interface{}{})
	require.NoError(t, err)

	require.NoError(t, s.MarkOutboxProcessing(msg.ID))
	require.NoError(t, s.MarkOutboxCompleted(msg.ID))

	var reloaded OutboxMessage
	require.NoError(t, s.DB.First(&reloaded, "id = ?", msg.ID).Error)
	assert.Equal(t, "completed", reloaded.Status)
	assert.Equal(t, 1, reloaded.Attempts)
	assert.NotNil(t, reloaded.ProcessedAt)
}

func TestMarkOutboxFailed_RetriesWithBackoffUntilDeadLetter(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.CreateOutboxMessage("node-exec-1", "email.send", map[string]interface{}{})
	require.NoError(t, err)
	msg.MaxAttempts = 2
	require.NoError(t, s.DB.Save(msg).Error)

	// Attempt 1: still pending, scheduled to retry.
	require.NoError(t, s.MarkOutboxProcessing(msg.ID))
	require.NoError(t, s.MarkOutboxFailed(msg.ID, "smtp timeout"))

	var afterFirst OutboxMessage
	require.NoError(t, s.DB.First(&afterFirst, "id = ?", msg.ID).Error)
	assert.Equal(t, "pending", afterFirst.Status)
	require.NotNil(t, afterFirst.NextRetryAt)
	assert.True(t, afterFirst.NextRetryAt.After(time.Now().UTC()))

	// Attempt 2 exhausts MaxAttempts: dead_letter.
	require.NoError(t, s.MarkOutboxProcessing(msg.ID))
	require.NoError(t, s.MarkOutboxFailed(msg.ID, "smtp timeout again"))

	var afterSecond OutboxMessage
	require.NoError(t, s.DB.First(&afterSecond, "id = ?", msg.ID).Error)
	assert.Equal(t, "dead_letter", afterSecond.Status)
	assert.Nil(t, afterSecond.NextRetryAt)
}

func TestRetryDeadLetterMessage_ResetsToPending(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.CreateOutboxMessage("node-exec-1", "email.send", map[string]interface{}{})
	require.NoError(t, err)
	msg.MaxAttempts = 1
	require.NoError(t, s.DB.Save(msg).Error)

	require.NoError(t, s.MarkOutboxProcessing(msg.ID))
	require.NoError(t, s.MarkOutboxFailed(msg.ID, "boom"))

	deadLetter, err := s.DeadLetterMessages(10)
	require.NoError(t, err)
	require.Len(t, deadLetter, 1)

	require.NoError(t, s.RetryDeadLetterMessage(msg.ID))

	var reloaded OutboxMessage
	require.NoError(t, s.DB.First(&reloaded, "id = ?", msg.ID).Error)
	assert.Equal(t, "pending", reloaded.Status)
	assert.Equal(t, 0, reloaded.Attempts)
}

func TestOutboxIntegrity_CountsByStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateOutboxMessage("n1", "email.send", map[string]interface{}{})
	require.NoError(t, err)
	_, err = s.CreateOutboxMessage("n2", "slack.send", map[string]interface{}{})
	require.NoError(t, err)

	counts, err := s.OutboxIntegrity()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["pending"])
	assert.Equal(t, int64(0), counts["dead_letter"])
}
