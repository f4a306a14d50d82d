package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// HTTPNode issues an outbound HTTP request per its (already
// placeholder-resolved, see internal/engine's ResolveConfig) config: url,
// method, headers, body.
type HTTPNode struct {
	Client *http.Client
}

func NewHTTPNode(client *http.Client) engine.Node {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNode{Client: client}
}

func (n *HTTPNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *HTTPNode) OutputPorts() []graph.Port {
	return []graph.Port{
		{Name: "output", Type: graph.PortUniversal},
		{Name: "error", Type: graph.PortUniversal},
	}
}

func (n *HTTPNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	url, _ := in.Config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	method, _ := in.Config["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	headers := map[string]string{}
	if h, ok := in.Config["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	var bodyReader io.Reader
	if method == "POST" || method == "PUT" || method == "PATCH" {
		if body, ok := in.Config["body"]; ok {
			if s, ok := body.(string); ok {
				bodyReader = strings.NewReader(s)
			} else {
				raw, err := json.Marshal(body)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal body: %w", err)
				}
				bodyReader = bytes.NewReader(raw)
				if _, exists := headers["Content-Type"]; !exists {
					headers["Content-Type"] = "application/json"
				}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"url":         url,
		"method":      method,
		"data":        data,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		output["error"] = fmt.Sprintf("HTTP request failed with status %d", resp.StatusCode)
		output["success"] = false
		return output, nil
	}
	output["output"] = data
	return output, nil
}
