// Package publisher announces delivery outcomes on RabbitMQ.
package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

const (
	DefaultExchange   = "notifications-exchange"
	DefaultQueue      = "notification-events"
	DefaultRoutingKey = "notification.events"
	deadLetterSuffix  = ".dlq"
)

// Topology names the exchange and queue the events are routed through.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}
	if t.RoutingKey == "" {
		t.RoutingKey = DefaultRoutingKey
	}

	return t
}

type publishFunc func(body []byte, routingKey, contentType string, strategy retry.Strategy) error

// EventPublisher publishes notification events as JSON messages.
type EventPublisher struct {
	publish    publishFunc
	routingKey string
	strategy   retry.Strategy
}

// NewEventPublisher declares the exchange, the events queue and its dead
// letter queue on ch and returns a publisher bound to them.
func NewEventPublisher(ch *rabbitmq.Channel, topology Topology, strategy retry.Strategy) (*EventPublisher, error) {
	topology = topology.withDefaults()

	exchange := rabbitmq.NewExchange(topology.Exchange, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	dlq := topology.Queue + deadLetterSuffix
	if _, err := qm.DeclareQueue(dlq, rabbitmq.QueueConfig{Durable: true}); err != nil {
		return nil, fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	args := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}

	q, err := qm.DeclareQueue(topology.Queue, rabbitmq.QueueConfig{
		Durable: true,
		Args:    args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare events queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, topology.RoutingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the events queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())

	return newEventPublisher(func(body []byte, routingKey, contentType string, strategy retry.Strategy) error {
		return pub.PublishWithRetry(body, routingKey, contentType, strategy)
	}, topology.RoutingKey, strategy), nil
}

func newEventPublisher(publish publishFunc, routingKey string, strategy retry.Strategy) *EventPublisher {
	return &EventPublisher{publish: publish, routingKey: routingKey, strategy: strategy}
}

// Publish sends the event, retrying according to the publisher's strategy.
func (p *EventPublisher) Publish(event model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.publish(body, p.routingKey, "application/json", p.strategy); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	return nil
}
