package outbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patali/fluxgraph/internal/store"
)

// fakeRecorder is an in-memory stand-in for *store.Store, exercising only
// the Recorder interface the worker depends on.
type fakeRecorder struct {
	pending    []store.OutboxMessage
	processing []string
	completed  []string
	failed     map[string]string
}

func newFakeRecorder(msgs ...store.OutboxMessage) *fakeRecorder {
	return &fakeRecorder{pending: msgs, failed: map[string]string{}}
}

func (f *fakeRecorder) PendingOutboxMessages(limit int) ([]store.OutboxMessage, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeRecorder) MarkOutboxProcessing(id string) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeRecorder) MarkOutboxCompleted(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeRecorder) MarkOutboxFailed(id, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func TestWorker_DispatchesToRegisteredHandler(t *testing.T) {
	rec := newFakeRecorder(store.OutboxMessage{ID: "m1", EventType: "email.send", Payload: `{"to":"a@b.com"}`})
	w := NewWorker(rec, 0)

	var gotPayload map[string]interface{}
	w.Register("email.send", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		gotPayload = payload
		return map[string]interface{}{"ok": true}, nil
	})

	w.tick(context.Background())

	require.Contains(t, rec.completed, "m1")
	assert.Equal(t, "a@b.com", gotPayload["to"])
}

func TestWorker_NoDispatcherRegistered_MarksFailed(t *testing.T) {
	rec := newFakeRecorder(store.OutboxMessage{ID: "m2", EventType: "unknown.event", Payload: `{}`})
	w := NewWorker(rec, 0)

	w.tick(context.Background())

	assert.Contains(t, rec.failed["m2"], "no dispatcher registered")
	assert.NotContains(t, rec.completed, "m2")
}

func TestWorker_DispatcherError_MarksFailed(t *testing.T) {
	rec := newFakeRecorder(store.OutboxMessage{ID: "m3", EventType: "http.request", Payload: `{}`})
	w := NewWorker(rec, 0)
	w.Register("http.request", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("connection refused")
	})

	w.tick(context.Background())

	assert.Equal(t, "connection refused", rec.failed["m3"])
}

func TestWorker_InvalidPayloadJSON_MarksFailed(t *testing.T) {
	rec := newFakeRecorder(store.OutboxMessage{ID: "m4", EventType: "email.send", Payload: `not-json`})
	w := NewWorker(rec, 0)
	w.Register("email.send", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		t.Fatal("dispatcher should not be called for invalid payload")
		return nil, nil
	})

	w.tick(context.Background())

	assert.Contains(t, rec.failed["m4"], "invalid payload json")
}
