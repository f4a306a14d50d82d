// Package webhook bridges the HTTP boundary to webhook-trigger nodes
// living inside workflow graphs. A WebhookTriggerNode's StartMonitoring
// registers an entry here instead of opening its own listener; the shared
// HTTP server looks the entry up per inbound request.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Entry is one active webhook registration.
type Entry struct {
	WorkflowID   string
	Path         string
	SigningSecret string
	Fire         func(ctx context.Context, body map[string]interface{}) error
}

// Registry is the process-wide singleton webhook-trigger nodes register
// into and the HTTP boundary looks entries up from. Keyed by
// workflowID+"/"+path so a workflow may expose more than one custom path.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func key(workflowID, path string) string { return workflowID + "/" + path }

func (r *Registry) Register(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(e.WorkflowID, e.Path)] = e
}

func (r *Registry) Unregister(workflowID, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key(workflowID, path))
}

func (r *Registry) Lookup(workflowID, path string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(workflowID, path)]
	return e, ok
}

// Sign computes the hex-encoded HMAC-SHA256 signature a caller must present
// for rawBody, keyed by the webhook's signing secret.
func Sign(signingSecret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatch verifies the inbound request's signature against the registered
// entry's signing secret (constant-time comparison via hmac.Equal) and, on
// success, fires the workflow with the parsed body as trigger data.
func (r *Registry) Dispatch(ctx context.Context, workflowID, path, signature string, rawBody []byte) error {
	entry, ok := r.Lookup(workflowID, path)
	if !ok {
		return fmt.Errorf("no webhook registered for workflow %s path %q", workflowID, path)
	}

	expected := Sign(entry.SigningSecret, rawBody)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid webhook signature")
	}

	var body map[string]interface{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &body); err != nil {
			body = map[string]interface{}{"raw": string(rawBody)}
		}
	} else {
		body = map[string]interface{}{}
	}

	return entry.Fire(ctx, body)
}
