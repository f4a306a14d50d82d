package nodes

import (
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/webhook"
)

// Dependencies collects the shared collaborators node constructors close
// over: an HTTP client for outbound nodes, configured email senders, a
// default OpenAI client, and the webhook registry the HTTP boundary
// dispatches through. Any field left nil degrades that node type's
// corresponding feature rather than panicking at registration time.
type Dependencies struct {
	HTTPClient      *http.Client
	EmailSenders    map[string]EmailSender
	DefaultProvider string
	OpenAIClient    *openai.Client
	WebhookRegistry *webhook.Registry
}

// Register wires every built-in node type into registry, matching the
// teacher's factory.Register(nodeType, executor) pattern one type at a
// time instead of a single init()-time side effect.
func Register(registry *engine.Registry, deps Dependencies) {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	registry.Register(engine.Registration{
		NodeType:     "start",
		Factory:      func() engine.Node { return NewStartNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "end",
		Factory:      func() engine.Node { return NewEndNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "conditional",
		Factory:      func() engine.Node { return NewConditionalNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "transform",
		Factory:      func() engine.Node { return NewTransformNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "delay",
		Factory:      func() engine.Node { return NewDelayNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}, SupportsInteraction: true},
	})
	registry.Register(engine.Registration{
		NodeType:     "http",
		Factory:      func() engine.Node { return NewHTTPNode(httpClient) },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "slack",
		Factory:      func() engine.Node { return NewSlackNode(httpClient) },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "email",
		Factory:      func() engine.Node { return NewEmailNode(deps.EmailSenders, deps.DefaultProvider) },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "loop-control",
		Factory:      func() engine.Node { return NewLoopControlNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "loop-accumulator",
		Factory:      func() engine.Node { return NewLoopAccumulatorNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "json",
		Factory:      func() engine.Node { return NewJSONDataNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "json-extract",
		Factory:      func() engine.Node { return NewJSONExtractNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}},
	})
	registry.Register(engine.Registration{
		NodeType:     "ai-chat",
		Factory:      func() engine.Node { return NewAIChatNode(deps.OpenAIClient) },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolLLM, engine.PoolAI}},
	})
	registry.Register(engine.Registration{
		NodeType:     "cron-trigger",
		Factory:      func() engine.Node { return NewCronTriggerNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}, IsTrigger: true},
	})
	registry.Register(engine.Registration{
		NodeType:     "webhook-trigger",
		Factory:      func() engine.Node { return NewWebhookTriggerNode(deps.WebhookRegistry) },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}, IsTrigger: true},
	})
	registry.Register(engine.Registration{
		NodeType:     "human-input",
		Factory:      func() engine.Node { return NewHumanInputNode() },
		Capabilities: engine.CapabilitySet{Pools: []string{engine.PoolStandard}, SupportsInteraction: true},
	})
}
