// Package outbox implements the at-least-once delivery worker for queued
// side effects: pending outbox_messages rows (written by
// store.CreateOutboxMessage) are dispatched to the handler registered for
// their event type — grounded on the teacher's OutboxWorkerService,
// generalized from a fixed email/http/slack switch to a registered
// Dispatcher map. No node enqueues into the outbox; nodes send inline.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/patali/fluxgraph/internal/store"
)

// Recorder is the subset of *store.Store the worker needs.
type Recorder interface {
	PendingOutboxMessages(limit int) ([]store.OutboxMessage, error)
	MarkOutboxProcessing(messageID string) error
	MarkOutboxCompleted(messageID string) error
	MarkOutboxFailed(messageID, errMsg string) error
}

// Dispatcher delivers one outbox message's payload, returning the
// side-effect's output on success.
type Dispatcher func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// Worker polls for pending outbox messages and dispatches each to the
// handler registered for its event type.
type Worker struct {
	Recorder     Recorder
	PollInterval time.Duration
	BatchSize    int

	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

func NewWorker(recorder Recorder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		Recorder:     recorder,
		PollInterval: pollInterval,
		BatchSize:    10,
		dispatchers:  make(map[string]Dispatcher),
	}
}

// Register binds an event type (e.g. "email.send", "slack.send") to the
// function that delivers it.
func (w *Worker) Register(eventType string, d Dispatcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dispatchers[eventType] = d
}

// Run blocks, polling until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	messages, err := w.Recorder.PendingOutboxMessages(w.BatchSize)
	if err != nil {
		log.Printf("outbox: fetch pending messages: %v", err)
		return
	}
	for _, msg := range messages {
		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, msg store.OutboxMessage) {
	if err := w.Recorder.MarkOutboxProcessing(msg.ID); err != nil {
		log.Printf("outbox: mark processing %s: %v", msg.ID, err)
		return
	}

	w.mu.RLock()
	dispatch, ok := w.dispatchers[msg.EventType]
	w.mu.RUnlock()
	if !ok {
		w.Recorder.MarkOutboxFailed(msg.ID, fmt.Sprintf("no dispatcher registered for event type %q", msg.EventType))
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		w.Recorder.MarkOutboxFailed(msg.ID, fmt.Sprintf("invalid payload json: %v", err))
		return
	}

	if _, err := dispatch(ctx, payload); err != nil {
		log.Printf("outbox: message %s dispatch failed: %v", msg.ID, err)
		w.Recorder.MarkOutboxFailed(msg.ID, err.Error())
		return
	}

	if err := w.Recorder.MarkOutboxCompleted(msg.ID); err != nil {
		log.Printf("outbox: mark completed %s: %v", msg.ID, err)
	}
}
