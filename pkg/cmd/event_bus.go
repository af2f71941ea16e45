package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/mrlynn/netpad-v3-sub010/pkg/channels/gochannel"
	"github.com/mrlynn/netpad-v3-sub010/pkg/channels/kafka"
	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
)

// Messaging is the watermill transport shared by the lifecycle event bus
// and the message_send node.
type Messaging struct {
	EventBus  eventbus.EventBus
	Publisher message.Publisher
}

// Close closes the event bus, which owns the publisher.
func (m *Messaging) Close() error {
	return m.EventBus.Close()
}

// NewMessaging creates the transport for provider: "gochannel" keeps
// messages in process, "kafka" sends them to brokers (comma-separated).
func NewMessaging(provider, brokers string, logger *slog.Logger) (*Messaging, error) {
	wlogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wlogger, gochannel.DefaultBuffer)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return &Messaging{EventBus: eventbus.NewWatermillEventBus(pub, sub), Publisher: pub}, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wlogger, kafka.ParseBrokers(brokers), "netpad")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &Messaging{EventBus: eventbus.NewWatermillEventBus(pub, sub), Publisher: pub}, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
