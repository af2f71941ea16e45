// Package message provides the node that hands outbound notifications
// (email, slack, sms) to the delivery pipeline.
package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// Topic carries outbound messages to the channel delivery consumers.
const Topic = "netpad.outbound.messages"

const (
	DedupeKeyMetadata = "dedupe_key"
	ChannelMetadata   = "channel"
)

const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
	ChannelSMS   = "sms"
)

// Outbound is the payload published for each message.
type Outbound struct {
	DedupeKey   string         `json:"dedupe_key"`
	Channel     string         `json:"channel"`
	To          []string       `json:"to"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	OrgID       string         `json:"org_id"`
	NodeID      string         `json:"node_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Node publishes one outbound message per execution. Delivery is
// at-least-once; consumers drop repeats by DedupeKey.
type Node struct {
	publisher wmessage.Publisher
}

// New creates the executor around a watermill publisher.
func New(publisher wmessage.Publisher) *Node {
	return &Node{publisher: publisher}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindMessageSend }
func (n *Node) Name() string          { return "Send Message" }

func (n *Node) Description() string {
	return "Sends an email, Slack or SMS message through the outbound delivery pipeline"
}

func (n *Node) RequiredInputs() []string {
	return []string{"to", "body"}
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type": "string",
				"enum": []string{ChannelEmail, ChannelSlack, ChannelSMS},
			},
			"to": map[string]any{
				"type":        []string{"string", "array"},
				"description": "Recipient address, channel or phone number; a list sends to several",
			},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string", "minLength": 1},
			"metadata": map[string]any{
				"type": "object",
			},
		},
		"required": []string{"channel", "to", "body"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if nodes.String(config, "channel", "") == ChannelEmail && nodes.String(config, "subject", "") == "" {
		return nodes.InvalidConfig("email messages require a subject")
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	if n.publisher == nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("no outbound publisher configured"))
	}

	channel := nodes.String(in.Config, "channel", "")
	switch channel {
	case ChannelEmail, ChannelSlack, ChannelSMS:
	default:
		return nodes.Output{}, nodes.InvalidConfig("unknown channel %q", channel)
	}

	recipients := recipientList(in.Config["to"])
	if len(recipients) == 0 {
		return nodes.Output{}, nodes.InvalidConfig("at least one recipient is required")
	}

	nodeID := ""
	if in.Node != nil {
		nodeID = in.Node.ID
	}

	out := Outbound{
		DedupeKey:   in.Meta.ExecutionID + ":" + nodeID,
		Channel:     channel,
		To:          recipients,
		Subject:     nodes.String(in.Config, "subject", ""),
		Body:        nodes.String(in.Config, "body", ""),
		ExecutionID: in.Meta.ExecutionID,
		WorkflowID:  in.Meta.WorkflowID,
		OrgID:       in.Meta.OrgID,
		NodeID:      nodeID,
		Metadata:    nodes.Map(in.Config, "metadata"),
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("failed to encode message: %w", err))
	}

	msg := wmessage.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(DedupeKeyMetadata, out.DedupeKey)
	msg.Metadata.Set(ChannelMetadata, channel)
	msg.SetContext(ctx)

	err = n.publisher.Publish(Topic, msg)
	if err != nil {
		return nodes.Output{}, nodes.Retryable(fmt.Errorf("failed to publish message: %w", err))
	}

	to := make([]any, len(recipients))
	for i, r := range recipients {
		to[i] = r
	}

	return nodes.Output{Data: map[string]any{
		"messageId": msg.UUID,
		"channel":   channel,
		"to":        to,
		"dedupeKey": out.DedupeKey,
		"status":    "queued",
	}}, nil
}

func recipientList(v any) []string {
	switch to := v.(type) {
	case string:
		if to == "" {
			return nil
		}

		return []string{to}
	case []any:
		recipients := make([]string, 0, len(to))

		for _, r := range to {
			if s := fmt.Sprint(r); r != nil && s != "" {
				recipients = append(recipients, s)
			}
		}

		return recipients
	case []string:
		return to
	default:
		return nil
	}
}
