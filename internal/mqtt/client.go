package mqtt

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"relaygate/internal/models"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler receives messages of a subscribed topic
type Handler = func(topic string, payload []byte)

// Options configures the broker connection
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	// OperationTimeout bounds how long publish/subscribe wait for the broker
	OperationTimeout time.Duration
}

// Client is an MQTT transport that remembers its subscriptions and restores
// them after every reconnect
type Client struct {
	client  MQTT.Client
	qos     byte
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewClient connects to the broker
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Second
	}

	c := &Client{
		qos:      opts.QoS,
		timeout:  opts.OperationTimeout,
		logger:   logger,
		handlers: make(map[string]Handler),
	}

	mqttOptions := MQTT.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ MQTT.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})
	if opts.Username != "" {
		mqttOptions.SetUsername(opts.Username)
		mqttOptions.SetPassword(opts.Password)
	}

	c.client = MQTT.NewClient(mqttOptions)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	logger.Info("Connected to MQTT broker", zap.String("broker", opts.Broker), zap.String("client_id", opts.ClientID))
	return c, nil
}

// onConnect restores every known subscription; paho runs it on its own goroutine
func (c *Client) onConnect(client MQTT.Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	if len(topics) == 0 {
		return
	}
	sort.Strings(topics)

	c.logger.Info("Restoring subscriptions after connect", zap.Int("topics", len(topics)))
	for _, topic := range topics {
		c.mu.Lock()
		handler, ok := c.handlers[topic]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Warn("Failed to restore subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Publish sends payload to topic
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return models.ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Subscribe registers handler for topic and subscribes on the broker
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ MQTT.Client, msg MQTT.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the topics on the broker and forgets their handlers
func (c *Client) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.mu.Unlock()

	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("unsubscribe from %s timed out", strings.Join(topics, ","))
	}
	return token.Error()
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect closes the connection, waiting quiesce for in-flight work
func (c *Client) Disconnect(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce / time.Millisecond))
	c.logger.Info("Disconnected from MQTT broker")
}

// ParseDeviceKey returns the <id> segment of a devices/<id>/... topic
func ParseDeviceKey(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}
