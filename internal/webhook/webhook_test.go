package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_ValidSignatureFiresWorkflow(t *testing.T) {
	r := NewRegistry()
	var firedWith map[string]interface{}
	r.Register(&Entry{
		WorkflowID:    "wf-1",
		Path:          "/orders",
		SigningSecret: "super-secret",
		Fire: func(ctx context.Context, body map[string]interface{}) error {
			firedWith = body
			return nil
		},
	})

	body := []byte(`{"order_id":"abc123"}`)
	sig := Sign("super-secret", body)

	err := r.Dispatch(context.Background(), "wf-1", "/orders", sig, body)
	require.NoError(t, err)
	assert.Equal(t, "abc123", firedWith["order_id"])
}

func TestDispatch_InvalidSignatureRejected(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.Register(&Entry{
		WorkflowID:    "wf-1",
		Path:          "/orders",
		SigningSecret: "super-secret",
		Fire: func(ctx context.Context, body map[string]interface{}) error {
			fired = true
			return nil
		},
	})

	err := r.Dispatch(context.Background(), "wf-1", "/orders", "deadbeef", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook signature")
	assert.False(t, fired)
}

func TestDispatch_UnknownWorkflowOrPath(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(context.Background(), "missing-wf", "/nope", "anything", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no webhook registered")
}

func TestDispatch_NonJSONBodyStillFiresWithRawField(t *testing.T) {
	r := NewRegistry()
	var firedWith map[string]interface{}
	r.Register(&Entry{
		WorkflowID:    "wf-1",
		Path:          "/raw",
		SigningSecret: "k",
		Fire: func(ctx context.Context, body map[string]interface{}) error {
			firedWith = body
			return nil
		},
	})

	body := []byte("not json")
	sig := Sign("k", body)
	require.NoError(t, r.Dispatch(context.Background(), "wf-1", "/raw", sig, body))
	assert.Equal(t, "not json", firedWith["raw"])
}

func TestUnregister_RemovesEntry(t *testing.T) {
	r := NewRegistry()
	r.Register(&Entry{WorkflowID: "wf-1", Path: "/x", SigningSecret: "k", Fire: func(ctx context.Context, body map[string]interface{}) error { return nil }})
	r.Unregister("wf-1", "/x")

	_, ok := r.Lookup("wf-1", "/x")
	assert.False(t, ok)
}
