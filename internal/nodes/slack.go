package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

type slackMessage struct {
	Channel  string                   `json:"channel,omitempty"`
	Text     string                   `json:"text,omitempty"`
	Username string                   `json:"username,omitempty"`
	IconURL  string                   `json:"icon_url,omitempty"`
	Blocks   []map[string]interface{} `json:"blocks,omitempty"`
}

// SlackNode posts a message to an incoming webhook URL.
type SlackNode struct {
	Client *http.Client
}

func NewSlackNode(client *http.Client) engine.Node {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackNode{Client: client}
}

func (n *SlackNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *SlackNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *SlackNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	webhookURL, _ := in.Config["webhookUrl"].(string)
	if webhookURL == "" {
		return nil, fmt.Errorf("webhookUrl is required")
	}

	msg := slackMessage{}
	msg.Channel, _ = in.Config["channel"].(string)
	msg.Text, _ = in.Config["text"].(string)
	msg.Username, _ = in.Config["username"].(string)
	msg.IconURL, _ = in.Config["iconUrl"].(string)
	if blocks, ok := in.Config["blocks"].([]interface{}); ok {
		msg.Blocks = make([]map[string]interface{}, 0, len(blocks))
		for _, b := range blocks {
			if bm, ok := b.(map[string]interface{}); ok {
				msg.Blocks = append(msg.Blocks, bm)
			}
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return map[string]interface{}{
		"output": map[string]interface{}{
			"sent":        true,
			"channel":     msg.Channel,
			"text":        msg.Text,
			"status_code": resp.StatusCode,
		},
	}, nil
}
