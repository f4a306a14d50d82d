package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	openai "github.com/sashabaranov/go-openai"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// AIChatNode is the Agent node (§4.5): it calls a chat completion model and,
// when the model answers with a tool call, invokes the matching tool-only
// node through NodeRunner and feeds the result back as a follow-up message,
// looping until the model stops calling tools or maxToolRounds is hit.
type AIChatNode struct {
	Client *openai.Client
}

func NewAIChatNode(client *openai.Client) engine.Node {
	return &AIChatNode{Client: client}
}

func (n *AIChatNode) InputPorts() []graph.Port {
	return []graph.Port{
		{Name: "input", Type: graph.PortUniversal},
		{Name: "tools", Type: graph.PortUniversal},
	}
}

func (n *AIChatNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

const defaultMaxToolRounds = 5

func (n *AIChatNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	client := n.Client
	if apiKey, ok := credentialField(in, "api_key"); ok {
		client = openai.NewClient(apiKey)
	}
	if client == nil {
		return nil, fmt.Errorf("no OpenAI client configured: set credential_id or wire a default client")
	}

	model, _ := in.Config["model"].(string)
	if model == "" {
		model = openai.GPT4oMini
	}

	messages := n.buildMessages(in)
	tools := n.buildTools(in.Ports["tools"])

	maxRounds := defaultMaxToolRounds
	if v, ok := in.Config["maxToolRounds"].(float64); ok && v > 0 {
		maxRounds = int(v)
	}

	temperature := float32(0)
	if v, ok := in.Config["temperature"].(float64); ok {
		temperature = float32(v)
	}

	var lastResp openai.ChatCompletionResponse
	for round := 0; round < maxRounds; round++ {
		req := openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: temperature,
		}
		if len(tools) > 0 {
			req.Tools = tools
		}

		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return map[string]interface{}{"success": false, "error": err.Error()}, nil
		}
		lastResp = resp

		if len(resp.Choices) == 0 {
			break
		}
		choice := resp.Choices[0]
		messages = append(messages, choice.Message)

		if len(choice.Message.ToolCalls) == 0 || in.NodeRunner == nil {
			break
		}

		for _, call := range choice.Message.ToolCalls {
			result, err := n.invokeTool(ctx, in, call)
			if err != nil {
				result = map[string]interface{}{"error": err.Error()}
			}
			payload, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				payload = []byte(`{"error":"failed to encode tool result"}`)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}
	}

	if len(lastResp.Choices) == 0 {
		return map[string]interface{}{"success": false, "error": "model returned no choices"}, nil
	}

	final := lastResp.Choices[0].Message
	return map[string]interface{}{
		"output": map[string]interface{}{
			"content":       final.Content,
			"finish_reason": string(lastResp.Choices[0].FinishReason),
			"model":         lastResp.Model,
			"usage": map[string]interface{}{
				"prompt_tokens":     lastResp.Usage.PromptTokens,
				"completion_tokens": lastResp.Usage.CompletionTokens,
				"total_tokens":      lastResp.Usage.TotalTokens,
			},
		},
	}, nil
}

func (n *AIChatNode) buildMessages(in *engine.NodeExecutionInput) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if system, _ := in.Config["systemPrompt"].(string); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	prompt, _ := in.Config["prompt"].(string)
	content := prompt
	if content == "" {
		content = stringifyInput(in.Ports["input"])
	} else {
		content = renderTemplate(prompt, in.Ports["input"])
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	return messages
}

// buildTools converts the tool descriptors the Input Assembler attaches to
// the "tools" port (each {node_id, node_type, name, config}) into OpenAI
// function-tool schemas. A tool's parameters come from its own config's
// "parameters" key when present, defaulting to a free-form object so nodes
// that don't declare a schema are still callable.
func (n *AIChatNode) buildTools(raw interface{}) []openai.Tool {
	descriptors, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	tools := make([]openai.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		desc, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		nodeID, _ := desc["node_id"].(string)
		name, _ := desc["name"].(string)
		if name == "" {
			name = nodeID
		}
		name = sanitizeToolName(name)

		cfg, _ := desc["config"].(map[string]interface{})
		description, _ := cfg["description"].(string)
		if description == "" {
			nodeType, _ := desc["node_type"].(string)
			description = fmt.Sprintf("invokes the %s node", nodeType)
		}

		parameters, ok := cfg["parameters"].(map[string]interface{})
		if !ok {
			parameters = map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
			}
		}

		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  parameters,
			},
		})
	}
	return tools
}

func (n *AIChatNode) invokeTool(ctx context.Context, in *engine.NodeExecutionInput, call openai.ToolCall) (map[string]interface{}, error) {
	descriptors, _ := in.Ports["tools"].([]interface{})
	var targetNodeID string
	for _, d := range descriptors {
		desc, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		nodeID, _ := desc["node_id"].(string)
		name, _ := desc["name"].(string)
		if name == "" {
			name = nodeID
		}
		if sanitizeToolName(name) == call.Function.Name {
			targetNodeID = nodeID
			break
		}
	}
	if targetNodeID == "" {
		return nil, fmt.Errorf("no tool node matches function %q", call.Function.Name)
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid tool call arguments: %w", err)
		}
	}

	return in.NodeRunner(ctx, targetNodeID, map[string]interface{}{"input": args}, nil)
}

// credentialField resolves in.Config["credential_id"] through in.Credentials
// and returns the named field.
func credentialField(in *engine.NodeExecutionInput, field string) (string, bool) {
	raw, ok := in.Config["credential_id"]
	if !ok {
		return "", false
	}
	var key string
	switch v := raw.(type) {
	case string:
		key = v
	case float64:
		key = strconv.Itoa(int(v))
	case int:
		key = strconv.Itoa(v)
	default:
		return "", false
	}
	fields, ok := in.Credentials[key]
	if !ok {
		return "", false
	}
	val, ok := fields[field].(string)
	return val, ok
}

func stringifyInput(input interface{}) string {
	if s, ok := input.(string); ok {
		return s
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(raw)
}

func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "tool"
	}
	return string(out)
}
