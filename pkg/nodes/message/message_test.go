package message_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*wmessage.Message) error { return errors.New("broker down") }
func (failingPublisher) Close() error                               { return nil }

func TestMessage_PublishesWithDedupeKey(t *testing.T) {
	t.Parallel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received, err := pubSub.Subscribe(ctx, message.Topic)
	require.NoError(t, err)

	out, err := message.New(pubSub).Execute(ctx, nodes.Input{
		Node: &models.Node{ID: "notify", Type: models.NodeKindMessageSend},
		Config: map[string]any{
			"channel": "email",
			"to":      []any{"ada@example.com", "grace@example.com"},
			"subject": "Welcome",
			"body":    "Hello Ada",
		},
		Meta: nodes.Meta{ExecutionID: "exec-1", WorkflowID: "wf-1", OrgID: "org-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1:notify", out.Data["dedupeKey"])
	assert.Equal(t, "queued", out.Data["status"])

	msg := <-received
	msg.Ack()

	assert.Equal(t, "exec-1:notify", msg.Metadata.Get(message.DedupeKeyMetadata))
	assert.Equal(t, "email", msg.Metadata.Get(message.ChannelMetadata))

	var outbound message.Outbound
	require.NoError(t, json.Unmarshal(msg.Payload, &outbound))
	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, outbound.To)
	assert.Equal(t, "org-1", outbound.OrgID)
}

func TestMessage_PublishFailureIsRetryable(t *testing.T) {
	t.Parallel()

	_, err := message.New(failingPublisher{}).Execute(context.Background(), nodes.Input{
		Node:   &models.Node{ID: "notify"},
		Config: map[string]any{"channel": "slack", "to": "#ops", "body": "deploy done"},
	})
	require.Error(t, err)
	assert.True(t, nodes.IsRetryable(err))
}

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	node := message.New(nil)

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid sms", map[string]any{"channel": "sms", "to": "+15550100", "body": "code {{code}}"}, false},
		{"email without subject", map[string]any{"channel": "email", "to": "a@b.c", "body": "hi"}, true},
		{"unknown channel", map[string]any{"channel": "fax", "to": "1", "body": "hi"}, true},
		{"missing body", map[string]any{"channel": "sms", "to": "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := node.Validate(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, nodes.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
