// Package mqtt wraps the paho.golang autopaho connection manager behind a
// small publish/subscribe interface used by the Home Assistant bridge.
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/buzato/ha-creality-ws/internal/logging"
)

// MessageHandler processes one received MQTT message.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the broker connection used by the bridge. autopaho handles
// reconnects; subscriptions registered here are re-established after each
// reconnect.
type Client interface {
	// Start initiates the connection. Non-blocking; use AwaitConnection.
	Start(ctx context.Context) error
	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)
	// Publish sends a message.
	Publish(ctx context.Context, topic string, retain bool, payload []byte) error
	// Subscribe registers a handler for a topic filter.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	// AwaitConnection blocks until connected or ctx ends.
	AwaitConnection(ctx context.Context) error
	// IsConnected reports the current connection state.
	IsConnected() bool
}

// Config holds broker connection settings.
type Config struct {
	// BrokerURL is the broker address, e.g. "mqtt://localhost:1883".
	BrokerURL string
	// ClientID identifies this session to the broker.
	ClientID string
	// Username and Password are optional broker credentials.
	Username string
	Password string
	// KeepAlive is the MQTT keepalive in seconds.
	KeepAlive uint16
	// WillTopic and WillPayload configure the availability will message
	// the broker publishes when this client drops.
	WillTopic   string
	WillPayload []byte
}

// Validate checks the config for required fields.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("mqtt broker URL is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("mqtt client ID is required")
	}
	return nil
}

// subscription is a registered topic handler, replayed after reconnects.
type subscription struct {
	topic   string
	handler MessageHandler
}

type pahoClient struct {
	config Config
	logger *logging.Logger
	cm     *autopaho.ConnectionManager

	mu   sync.RWMutex
	subs []subscription
}

// NewClient creates a broker client. Start must be called before use.
func NewClient(config Config, logger *logging.Logger) (Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 30
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &pahoClient{config: config, logger: logger}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.config.BrokerURL)
	if err != nil {
		return fmt.Errorf("parsing broker URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:       []*url.URL{brokerURL},
		KeepAlive:        c.config.KeepAlive,
		ReconnectBackoff: autopaho.NewConstantBackoff(3 * time.Second),
		ConnectUsername:  c.config.Username,
		ConnectPassword:  []byte(c.config.Password),
		OnConnectionUp:   c.onConnectionUp,
		OnConnectError: func(err error) {
			c.logger.Warn("MQTT connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
			OnClientError: func(err error) {
				c.logger.Warn("MQTT client error", "error", err)
			},
		},
	}

	if c.config.WillTopic != "" {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   c.config.WillTopic,
			QoS:     1,
			Retain:  true,
			Payload: c.config.WillPayload,
		}
	}

	c.logger.Info("Starting MQTT client", "broker", c.config.BrokerURL, "client_id", c.config.ClientID)

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating MQTT connection: %w", err)
	}
	c.cm = cm
	return nil
}

// onConnectionUp replays registered subscriptions after every (re)connect.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.logger.Info("MQTT connection up")

	c.mu.RLock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	opts := make([]paho.SubscribeOptions, 0, len(subs))
	for _, s := range subs {
		opts = append(opts, paho.SubscribeOptions{Topic: s.topic, QoS: 1})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		c.logger.Warn("Resubscribe failed", "error", err)
	}
}

// route dispatches an incoming publish to the matching handler.
func (c *pahoClient) route(pr paho.PublishReceived) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.subs {
		if topicMatches(s.topic, pr.Packet.Topic) {
			go s.handler(context.Background(), pr.Packet.Topic, pr.Packet.Payload)
			return true, nil
		}
	}
	return false, nil
}

func (c *pahoClient) Publish(ctx context.Context, topic string, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}

	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, handler: handler})
	c.mu.Unlock()

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	if c.cm == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	return c.cm.AwaitConnection(ctx) == nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		c.logger.Info("MQTT client disconnected")
	}
}

// topicMatches implements MQTT topic filter matching with + and # wildcards.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fParts := splitTopic(filter)
	tParts := splitTopic(topic)

	for i, fp := range fParts {
		if fp == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fp != "+" && fp != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}

func splitTopic(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
