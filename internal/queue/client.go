package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// Client owns the River connection pool and job client, grounded on the
// teacher's river.Client wrapper — generalized to register this package's
// WorkflowExecutionWorker instead of the teacher's single-pass one.
type Client struct {
	riverClient *river.Client[pgx.Tx]
	pool        *pgxpool.Pool
}

func NewClient(ctx context.Context, databaseURL string, engine Engine) (*Client, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("queue: create pgx pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewWorkflowExecutionWorker(engine))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			"workflow":         {MaxWorkers: 5},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("queue: create river client: %w", err)
	}

	return &Client{riverClient: riverClient, pool: pool}, nil
}

func (c *Client) Start(ctx context.Context) error {
	if err := c.riverClient.Start(ctx); err != nil {
		return fmt.Errorf("queue: start river client: %w", err)
	}
	log.Println("queue: river workers started")
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	if err := c.riverClient.Stop(ctx); err != nil {
		return fmt.Errorf("queue: stop river client: %w", err)
	}
	c.pool.Close()
	log.Println("queue: river client stopped")
	return nil
}

// Enqueue durably schedules a workflow execution (manual or API-triggered
// per SPEC_FULL Part D; trigger-fired executions instead run directly off
// the Trigger Manager's in-process spawn, since they are already one-shot
// goroutines by design).
func (c *Client) Enqueue(ctx context.Context, workflowID, executionID, startedBy, triggerType string, triggerData map[string]interface{}) error {
	var triggerJSON string
	if triggerData != nil {
		b, err := json.Marshal(triggerData)
		if err != nil {
			return fmt.Errorf("queue: marshal trigger data: %w", err)
		}
		triggerJSON = string(b)
	}

	_, err := c.riverClient.Insert(ctx, WorkflowExecutionArgs{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		StartedBy:   startedBy,
		TriggerData: triggerJSON,
		TriggerType: triggerType,
	}, nil)
	if err != nil {
		return fmt.Errorf("queue: insert job: %w", err)
	}
	return nil
}
