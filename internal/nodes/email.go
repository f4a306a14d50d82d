package nodes

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// EmailMessage is the provider-agnostic message an EmailSender dispatches.
type EmailMessage struct {
	From    string
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Text    string
	HTML    string
}

// EmailSender abstracts over the two wired providers (§C's dual-provider
// enrichment): Mailgun and SES. A node picks between them per-config via
// the "provider" key, falling back to whichever sender is configured as
// default.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (messageID string, err error)
}

// MailgunSender sends through the Mailgun HTTP API.
type MailgunSender struct {
	mg mailgun.Mailgun
}

func NewMailgunSender(domain, apiKey string) *MailgunSender {
	return &MailgunSender{mg: mailgun.NewMailgun(domain, apiKey)}
}

func (s *MailgunSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	message := s.mg.NewMessage(msg.From, msg.Subject, msg.Text, msg.To...)
	if msg.HTML != "" {
		message.SetHTML(msg.HTML)
	}
	for _, cc := range msg.CC {
		message.AddCC(cc)
	}
	for _, bcc := range msg.BCC {
		message.AddBCC(bcc)
	}
	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send failed: %w", err)
	}
	return id, nil
}

// SESSender sends through Amazon SES.
type SESSender struct {
	client *ses.Client
}

func NewSESSender(client *ses.Client) *SESSender {
	return &SESSender{client: client}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	body := &types.Body{}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text)}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML)}
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body:    body,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// EmailNode renders subject/body templates against its input and dispatches
// through whichever EmailSender its config names.
type EmailNode struct {
	Senders        map[string]EmailSender
	DefaultProvider string
}

func NewEmailNode(senders map[string]EmailSender, defaultProvider string) engine.Node {
	return &EmailNode{Senders: senders, DefaultProvider: defaultProvider}
}

func (n *EmailNode) InputPorts() []graph.Port {
	return []graph.Port{{Name: "input", Type: graph.PortUniversal}}
}

func (n *EmailNode) OutputPorts() []graph.Port {
	return []graph.Port{{Name: "output", Type: graph.PortUniversal}}
}

func (n *EmailNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	to, _ := in.Config["to"].(string)
	if to == "" {
		return nil, fmt.Errorf("to is required")
	}
	subject, _ := in.Config["subject"].(string)
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	from, _ := in.Config["from"].(string)

	input := in.Ports["input"]
	msg := EmailMessage{
		From:    from,
		To:      []string{to},
		Subject: renderTemplate(subject, input),
	}
	if body, ok := in.Config["body"].(string); ok {
		msg.Text = renderTemplate(body, input)
	}
	if html, ok := in.Config["html"].(string); ok {
		msg.HTML = renderTemplate(html, input)
	}
	if cc, ok := in.Config["cc"].(string); ok && cc != "" {
		msg.CC = []string{cc}
	}
	if bcc, ok := in.Config["bcc"].(string); ok && bcc != "" {
		msg.BCC = []string{bcc}
	}

	provider, _ := in.Config["provider"].(string)
	if provider == "" {
		provider = n.DefaultProvider
	}
	sender, ok := n.Senders[provider]
	if !ok {
		return nil, fmt.Errorf("no email sender configured for provider %q", provider)
	}

	messageID, err := sender.Send(ctx, msg)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}

	return map[string]interface{}{
		"output": map[string]interface{}{
			"sent":       true,
			"message_id": messageID,
			"provider":   provider,
		},
	}, nil
}

// renderTemplate executes text/template against input, matching the
// teacher's email executor's dot-notation template support (with
// {{.field}} the documented form); a template that fails to parse is
// returned unrendered rather than failing the node.
func renderTemplate(text string, input interface{}) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	tmpl, err := template.New("email").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}).Parse(text)
	if err != nil {
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, input); err != nil {
		return text
	}
	return buf.String()
}
