package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/inconshreveable/log15"
)

// bufferCapacity bounds how many messages are held while the broker is
// unreachable. Trigger events are frequent; older ones lose value fast.
const bufferCapacity = 256

// RealPublisher publishes to an actual MQTT broker. Messages that cannot
// be delivered are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client
	log    log15.Logger

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID string, logger log15.Logger) (*RealPublisher, error) {
	p := &RealPublisher{
		log:    logger,
		buffer: newRingBuffer(bufferCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a trigger event to the MQTT broker.
func (p *RealPublisher) Publish(event TriggerEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.send(TopicSystem, 1, event.Retained, payload)
}

// send delivers one message, or buffers it when the broker is
// unreachable.
func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.enqueue(topic, qos, retained, payload)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.enqueue(topic, qos, retained, payload)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.enqueue(topic, qos, retained, payload)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) enqueue(topic string, qos byte, retained bool, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffer.full() {
		p.log.Warn("mqtt buffer full, dropping oldest message", "capacity", bufferCapacity)
	}
	p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
}

// onConnect replays buffered messages after a (re)connection.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	p.log.Info("mqtt reconnected, replaying buffered messages", "count", len(pending))
	for _, msg := range pending {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5 * time.Second) {
			p.log.Warn("replay publish timeout", "topic", msg.topic)
		} else if err := token.Error(); err != nil {
			p.log.Warn("replay publish failed", "topic", msg.topic, "err", err)
		}
	}
}

// IsConnected reports whether the MQTT connection is active.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// BufferedCount reports how many messages are waiting for reconnect.
func (p *RealPublisher) BufferedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
