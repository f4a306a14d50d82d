package nodes

import (
	"context"
	"fmt"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
	"github.com/patali/fluxgraph/internal/webhook"
)

// WebhookTriggerNode is a triggers-category node whose "monitoring" is
// registering itself with the shared webhook.Registry — the HTTP boundary
// dispatches into it rather than it polling anything, unlike CronTriggerNode.
type WebhookTriggerNode struct {
	Registry   *webhook.Registry
	workflowID string
	path       string
}

func NewWebhookTriggerNode(registry *webhook.Registry) engine.Node {
	return &WebhookTriggerNode{Registry: registry}
}

func (n *WebhookTriggerNode) InputPorts() []graph.Port  { return nil }
func (n *WebhookTriggerNode) OutputPorts() []graph.Port { return []graph.Port{{Name: "output", Type: graph.PortUniversal}} }

func (n *WebhookTriggerNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	return nil, fmt.Errorf("webhook trigger nodes are never auto-scheduled; they fire via the webhook registry")
}

func (n *WebhookTriggerNode) StartMonitoring(ctx context.Context, workflowID string, cfg map[string]interface{}, spawn engine.SpawnFunc) error {
	path, _ := cfg["path"].(string)
	signingSecret, _ := cfg["signing_secret"].(string)
	if signingSecret == "" {
		return fmt.Errorf("webhook trigger requires signing_secret")
	}
	n.workflowID = workflowID
	n.path = path

	n.Registry.Register(&webhook.Entry{
		WorkflowID:    workflowID,
		Path:          path,
		SigningSecret: signingSecret,
		Fire: func(ctx context.Context, body map[string]interface{}) error {
			return spawn(ctx, workflowID, body, "webhook")
		},
	})
	return nil
}

func (n *WebhookTriggerNode) StopMonitoring(ctx context.Context) error {
	if n.Registry == nil {
		return nil
	}
	n.Registry.Unregister(n.workflowID, n.path)
	return nil
}
