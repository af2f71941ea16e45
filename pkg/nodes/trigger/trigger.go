// Package trigger provides the root node of every workflow: it exposes the
// firing payload to downstream nodes.
package trigger

import (
	"context"
	"maps"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/robfig/cron/v3"
)

// Node roots an execution for one trigger kind.
type Node struct{}

// New creates the trigger executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindTrigger }
func (n *Node) Name() string          { return "Trigger" }

func (n *Node) Description() string {
	return "Starts the workflow and exposes the trigger payload to downstream nodes"
}

func (n *Node) Schema() map[string]any {
	kinds := make([]string, 0, len(models.TriggerKinds()))
	for _, kind := range models.TriggerKinds() {
		kinds = append(kinds, string(kind))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"triggerKind": map[string]any{
				"type":        "string",
				"description": "Trigger kind this node roots; empty accepts any kind",
				"enum":        append(kinds, ""),
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression for schedule triggers (standard 5-field syntax)",
				"examples":    []string{"0 9 * * MON-FRI", "@every 15m"},
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone for the cron expression",
			},
		},
	}
}

// Validate checks the trigger kind and, for schedule triggers, the cron
// expression and timezone.
func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if models.TriggerKind(nodes.String(config, "triggerKind", "")) != models.TriggerKindSchedule {
		return nil
	}

	expr := nodes.String(config, "cron", "")
	if expr == "" {
		return nodes.InvalidConfig("schedule trigger requires 'cron'")
	}

	_, err = cron.ParseStandard(expr)
	if err != nil {
		return nodes.InvalidConfig("invalid cron expression %q: %v", expr, err)
	}

	if tz := nodes.String(config, "timezone", ""); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nodes.InvalidConfig("invalid timezone %q", tz)
		}
	}

	return nil
}

// Execute outputs a copy of the trigger payload.
func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	data := maps.Clone(in.Trigger.Payload)
	if data == nil {
		data = map[string]any{}
	}

	return nodes.Output{Data: data}, nil
}
