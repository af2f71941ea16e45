// Package delay provides the node that suspends an execution until a later
// time. The worker persists the pause and schedules a follow-up job; nothing
// sleeps in process.
package delay

import (
	"context"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// MaxDelay bounds how far in the future a delay may resume.
const MaxDelay = 30 * 24 * time.Hour

// Node suspends the walk.
type Node struct{}

// New creates the delay executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindDelay }
func (n *Node) Name() string          { return "Delay" }

func (n *Node) Description() string {
	return "Pauses the execution for a duration or until a point in time"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        []string{"string", "number"},
				"description": "Go duration (\"15m\") or milliseconds",
			},
			"until": map[string]any{
				"type":        "string",
				"description": "RFC 3339 timestamp to resume at",
			},
		},
		"oneOf": []any{
			map[string]any{"required": []string{"duration"}},
			map[string]any{"required": []string{"until"}},
		},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if s, ok := config["duration"].(string); ok && expression.HasReferences(s) {
		return nil
	}

	if _, ok := config["duration"]; ok {
		d, err := nodes.Duration(config, "duration", 0)
		if err != nil {
			return err
		}

		if d < 0 || d > MaxDelay {
			return nodes.InvalidConfig("duration must be between 0 and %s", MaxDelay)
		}
	}

	if until := nodes.String(config, "until", ""); until != "" && !expression.HasReferences(until) {
		if _, err := time.Parse(time.RFC3339, until); err != nil {
			return nodes.InvalidConfig("until must be an RFC 3339 timestamp")
		}
	}

	return nil
}

func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	now := in.Clock()

	if in.ResumedAt != nil {
		return nodes.Output{Data: map[string]any{"resumedAt": in.ResumedAt.UTC().Format(time.RFC3339)}}, nil
	}

	resumeAt, err := resumeTime(in.Config, now)
	if err != nil {
		return nodes.Output{}, err
	}

	if !resumeAt.After(now) {
		return nodes.Output{Data: map[string]any{"resumedAt": now.UTC().Format(time.RFC3339)}}, nil
	}

	return nodes.Output{
		Data:    map[string]any{"resumeAt": resumeAt.UTC().Format(time.RFC3339)},
		Suspend: &nodes.Suspend{ResumeAt: resumeAt},
	}, nil
}

func resumeTime(config map[string]any, now time.Time) (time.Time, error) {
	if until := nodes.String(config, "until", ""); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, nodes.InvalidConfig("until must be an RFC 3339 timestamp, got %q", until)
		}

		if t.Sub(now) > MaxDelay {
			return time.Time{}, nodes.InvalidConfig("until is more than %s away", MaxDelay)
		}

		return t, nil
	}

	d, err := nodes.Duration(config, "duration", 0)
	if err != nil {
		return time.Time{}, err
	}

	if d > MaxDelay {
		return time.Time{}, nodes.InvalidConfig("duration exceeds %s", MaxDelay)
	}

	return now.Add(d), nil
}
