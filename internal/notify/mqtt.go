// Package notify publishes order lifecycle events to the messaging channel.
// Downstream notification delivery is someone else's problem; this package
// only puts the event on the wire.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/opsdesk/service-orders/internal/models"
)

// orderEvent is the wire shape published for every lifecycle transition.
type orderEvent struct {
	OrderID     string        `json:"order_id"`
	OrderNumber int64         `json:"order_number"`
	Status      models.Status `json:"status"`
	Event       string        `json:"event"`
	ActorID     string        `json:"actor_id"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// MQTTPublisher publishes lifecycle events to an MQTT broker.
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(brokerURL, clientID, topicPrefix string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	if topicPrefix == "" {
		topicPrefix = "serviceorders"
	}
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix}, nil
}

// OrderEvent publishes the event fire-and-forget. Publish failures are logged
// and never fail the request that caused the transition.
func (p *MQTTPublisher) OrderEvent(event string, order *models.ServiceOrder, actorID string) {
	payload, err := json.Marshal(orderEvent{
		OrderID:     order.ID.Hex(),
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Event:       event,
		ActorID:     actorID,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		log.WithError(err).Error("failed to marshal order event")
		return
	}
	topic := p.Topic(event)
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithField("topic", topic).Warn("failed to publish order event")
		}
	}()
}

// Topic returns the topic an event is published on.
func (p *MQTTPublisher) Topic(event string) string {
	return p.topicPrefix + "/orders/" + event
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
