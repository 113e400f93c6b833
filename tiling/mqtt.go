package tiling

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttMaxRetryDelay  = 60 * time.Second
)

// MQTTClient owns the broker connection used for completion events
type MQTTClient struct {
	client      mqtt.Client
	logger      *zap.Logger
	isConnected bool
	mu          sync.RWMutex

	retryDelay time.Duration
}

// NewMQTTClient builds a paho client from cfg. It does not connect.
// An empty broker disables MQTT and returns nil, nil.
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	log := orNop(logger)
	if cfg.Broker == "" {
		log.Info("MQTT disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{logger: log, retryDelay: time.Second}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultMQTTClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(mqttMaxRetryDelay)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true) // summaries must arrive in image order

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// newMQTTClientWithMock wraps an existing mqtt.Client (used with MockClient)
func newMQTTClientWithMock(client mqtt.Client, logger *zap.Logger) *MQTTClient {
	return &MQTTClient{client: client, logger: orNop(logger), retryDelay: time.Millisecond}
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds or ctx is done
func (c *MQTTClient) Connect(ctx context.Context) error {
	retryDelay := c.retryDelay
	for {
		c.logger.Info("connecting to MQTT broker")

		token := c.client.Connect()
		if token.WaitTimeout(mqttConnectTimeout) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return nil
			}
			c.logger.Warn("MQTT connection failed", zap.Error(token.Error()))
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("retrying MQTT connection", zap.Duration("delay", retryDelay))
		select {
		case <-ctx.Done():
			return fmt.Errorf("connecting to MQTT broker: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, mqttMaxRetryDelay)
	}
}

func (c *MQTTClient) onConnect(mqtt.Client) {
	c.logger.Info("MQTT connected")
	c.setConnected(true)
}

// auto-reconnect is enabled, so a lost connection is usually transient
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying paho client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}
