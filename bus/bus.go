// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package bus implements the Bus Client (C4): a paho.mqtt.golang-backed
// connection to the broker with bounded-retry connect, enveloped publish,
// registry-keyed subscribe, and a statistics snapshot, the way
// cmd/mqtt/main.go in the teacher project layers cenkalti/backoff retries
// over a broker connection.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

// qosAtLeastOnce is the fixed QoS level for every publish and subscription
// (§4.4: "all publishes and all subscriptions use at-least-once delivery").
const qosAtLeastOnce byte = 1

var (
	// ErrNotConnected is returned by operations that require a live session.
	ErrNotConnected = errors.New("bus: not connected")
	// ErrUnregisteredKey indicates Publish was called with a topic key the
	// registry does not recognise.
	ErrUnregisteredKey = errors.New("bus: unregistered topic key")
	// ErrReconnectExhausted is returned by Start when the initial connect
	// attempt fails max_reconnect_attempts times in a row.
	ErrReconnectExhausted = errors.New("bus: reconnect attempts exhausted")
)

// Statistics is the snapshot returned by Client.Statistics (§4.4).
type Statistics struct {
	ConnectedAt      *time.Time
	PublishedCount   uint64
	ReceivedCount    uint64
	SubscribedTopics []string
	ReconnectCount   uint64
	LastMessageAt    *time.Time
	IsConnected      bool
}

// ConnectionListener is notified whenever the bus's connection state
// changes; terminal is true only for the final connection-changed(false)
// emitted once reconnect attempts are exhausted.
type ConnectionListener func(connected, terminal bool)

// Client is a concurrency-safe wrapper around a paho MQTT session that
// implements the registry-keyed publish contract handlers.Publisher expects.
type Client struct {
	cfg      config.ServiceConfig
	registry *registry.Registry
	router   *router.Router
	logger   *slog.Logger
	source   envelope.Service

	mu             sync.RWMutex
	client         mqtt.Client
	subscribed     map[string]string // resolved topic -> registry key
	connectedAt    *time.Time
	reconnectCount uint64
	listeners      []ConnectionListener

	publishedCount uint64
	receivedCount  uint64
	lastMessageAt  atomic.Pointer[time.Time]
}

// New constructs a Client. reg resolves topic keys to patterns; rt dispatches
// inbound messages to registered handlers; source identifies this process in
// every envelope it produces.
func New(cfg config.ServiceConfig, reg *registry.Registry, rt *router.Router, logger *slog.Logger, source envelope.Service) *Client {
	return &Client{
		cfg:        cfg,
		registry:   reg,
		router:     rt,
		logger:     logger,
		source:     source,
		subscribed: map[string]string{},
	}
}

// OnConnectionChange registers a listener invoked on every connection state
// transition, most recent registration last.
func (c *Client) OnConnectionChange(l ConnectionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Client) notify(connected, terminal bool) {
	c.mu.RLock()
	listeners := append([]ConnectionListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		l(connected, terminal)
	}
}

// Start opens the connection with bounded retry (max_reconnect_attempts
// spaced by reconnect_interval_s), then re-issues every subscription this
// client has already recorded. The topics declared in configuration are not
// subscribed here, and the order of the re-issued subscriptions is not
// defined.
func (c *Client) Start(ctx context.Context) error {
	opts := c.buildOptions()

	pahoClient := mqtt.NewClient(opts)

	attempts := c.cfg.Connection.MaxReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	connect := func() error {
		attempt++
		token := pahoClient.Connect()
		if !token.WaitTimeout(c.cfg.Connection.ConnectTimeout()) {
			return fmt.Errorf("connect timed out after %s", c.cfg.Connection.ConnectTimeout())
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn(fmt.Sprintf("bus: connect attempt %d/%d failed: %s, next try in %s", attempt, attempts, err, next))
	}

	spacing := backoff.NewConstantBackOff(c.cfg.Connection.ReconnectInterval())
	bounded := backoff.WithMaxRetries(spacing, uint64(attempts-1))
	lastErr := backoff.RetryNotify(connect, backoff.WithContext(bounded, ctx), notify)

	if lastErr != nil {
		c.notify(false, true)
		return errors.Wrap(ErrReconnectExhausted, lastErr)
	}

	c.mu.Lock()
	c.client = pahoClient
	now := time.Now().UTC()
	c.connectedAt = &now
	c.mu.Unlock()

	c.notify(true, false)

	if err := c.resubscribeAll(); err != nil {
		return err
	}

	c.logger.Info(fmt.Sprintf("bus: connected to %s:%d as %s", c.cfg.Connection.Broker, c.cfg.Connection.Port, c.cfg.Connection.ClientID))
	return nil
}

// Stop disconnects the underlying session. It is idempotent.
func (c *Client) Stop(_ context.Context) {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	c.notify(false, false)
}

func (c *Client) buildOptions() *mqtt.ClientOptions {
	conn := c.cfg.Connection
	scheme := "tcp"
	if conn.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, conn.Broker, conn.Port))
	opts.SetClientID(conn.ClientID)
	if conn.Username != "" {
		opts.SetUsername(conn.Username)
		opts.SetPassword(conn.Password)
	}
	opts.SetCleanSession(conn.CleanSession)
	opts.SetKeepAlive(conn.KeepAlive())
	opts.SetConnectTimeout(conn.ConnectTimeout())
	opts.SetAutoReconnect(false) // bounded retry covers only the initial connect in Start; a lost connection is not re-established
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	return opts
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn(fmt.Sprintf("bus: connection lost: %s", err))
	c.mu.Lock()
	c.connectedAt = nil
	c.reconnectCount++
	c.mu.Unlock()
	c.notify(false, false)
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	atomic.AddUint64(&c.receivedCount, 1)
	now := time.Now().UTC()
	c.lastMessageAt.Store(&now)
	c.router.Route(msg.Topic(), msg.Payload())
}

// PublishRaw publishes payload on topic at-least-once. It returns
// ErrNotConnected immediately if the client is not connected; nothing is
// queued for later delivery.
func (c *Client) PublishRaw(ctx context.Context, topic string, payload []byte, retained bool) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qosAtLeastOnce, retained, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if token.Error() != nil {
		return token.Error()
	}
	atomic.AddUint64(&c.publishedCount, 1)
	return nil
}

// Publish wraps data in an Envelope addressed from this client's service
// identity and typed with the message type the registry declares for
// topicKey, resolves topicKey through the registry, serialises, and calls
// PublishRaw. It returns false (never an error) on an unregistered key or
// serialisation failure (§4.4).
func (c *Client) Publish(ctx context.Context, topicKey string, data any, priority envelope.Priority, correlationID string) bool {
	topic, err := c.registry.Resolve(topicKey, c.cfg.Messages.Version)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("bus: publish to unregistered key %q: %s", topicKey, err))
		return false
	}

	msgType := envelope.Event
	for _, def := range c.registry.List() {
		if def.Key == topicKey && def.MessageType != "" {
			msgType = def.MessageType
			break
		}
	}

	env, err := envelope.New(msgType, priority, c.source, data)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("bus: envelope construction failed for key %q: %s", topicKey, err))
		return false
	}
	if correlationID != "" {
		env = env.WithCorrelationID(correlationID)
	}

	raw, err := envelope.Serialize(env)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("bus: serialise failed for key %q: %s", topicKey, err))
		return false
	}

	if err := c.PublishRaw(ctx, topic, raw, false); err != nil {
		c.logger.Warn(fmt.Sprintf("bus: publish failed for topic %q: %s", topic, err))
		return false
	}
	return true
}

// BatchItem is one entry of a PublishBatch call.
type BatchItem struct {
	Topic   string
	Payload []byte
}

// BatchResult is the outcome of a PublishBatch call (§4.4).
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Failures     []BatchFailure
}

// BatchFailure records one failed item from a PublishBatch call.
type BatchFailure struct {
	Topic string
	Error string
}

// PublishBatch issues every item's raw publish, continuing past individual
// failures rather than stopping at the first one (§4.4).
func (c *Client) PublishBatch(ctx context.Context, items []BatchItem) BatchResult {
	var result BatchResult
	for _, item := range items {
		if err := c.PublishRaw(ctx, item.Topic, item.Payload, false); err != nil {
			result.FailureCount++
			result.Failures = append(result.Failures, BatchFailure{Topic: item.Topic, Error: err.Error()})
			continue
		}
		result.SuccessCount++
	}
	return result
}

// Subscribe resolves topicKey (optionally parameterised) to a topic pattern,
// installs h in the router, and issues the MQTT subscription. On subscribe
// failure the router registration is rolled back (§4.4).
func (c *Client) Subscribe(topicKey string, h router.Handler, params ...string) error {
	pattern, err := c.registry.Resolve(topicKey, c.cfg.Messages.Version, params...)
	if err != nil {
		return err
	}
	return c.subscribePattern(pattern, topicKey, h)
}

func (c *Client) subscribePattern(pattern, topicKey string, h router.Handler) error {
	c.router.Subscribe(pattern, h)

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		c.router.Unsubscribe(pattern)
		return ErrNotConnected
	}

	token := client.Subscribe(pattern, qosAtLeastOnce, nil)
	if !token.WaitTimeout(c.cfg.Connection.ConnectTimeout()) || token.Error() != nil {
		c.router.Unsubscribe(pattern)
		err := token.Error()
		if err == nil {
			err = fmt.Errorf("subscribe to %q timed out", pattern)
		}
		return err
	}

	c.mu.Lock()
	c.subscribed[pattern] = topicKey
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the MQTT filter and the router's handler entry for
// the topic pattern resolved topicKey last subscribed to.
func (c *Client) Unsubscribe(topicKey string, params ...string) error {
	pattern, err := c.registry.Resolve(topicKey, c.cfg.Messages.Version, params...)
	if err != nil {
		return err
	}

	c.router.Unsubscribe(pattern)

	c.mu.Lock()
	client := c.client
	delete(c.subscribed, pattern)
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		token := client.Unsubscribe(pattern)
		token.Wait()
		return token.Error()
	}
	return nil
}

func (c *Client) resubscribeAll() error {
	c.mu.RLock()
	client := c.client
	patterns := make([]string, 0, len(c.subscribed))
	for p := range c.subscribed {
		patterns = append(patterns, p)
	}
	c.mu.RUnlock()

	if client == nil {
		return nil
	}
	for _, pattern := range patterns {
		token := client.Subscribe(pattern, qosAtLeastOnce, nil)
		if !token.WaitTimeout(c.cfg.Connection.ConnectTimeout()) || token.Error() != nil {
			return fmt.Errorf("resubscribe %q: %w", pattern, token.Error())
		}
	}
	return nil
}

// HealthCheck publishes a Heartbeat envelope on status.heartbeat resolved
// with this client's service name, returning connected ∧ publish-succeeded
// (§4.4).
func (c *Client) HealthCheck(ctx context.Context) bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return false
	}

	topic, err := c.registry.Resolve("status.heartbeat", c.cfg.Messages.Version, c.cfg.ServiceName)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("bus: health check resolve failed: %s", err))
		return false
	}

	env, err := envelope.New(envelope.Heartbeat, envelope.PriorityLow, c.source, map[string]string{
		"source": c.cfg.ServiceName,
		"id":     uuid.NewString(),
	})
	if err != nil {
		return false
	}

	raw, err := envelope.Serialize(env)
	if err != nil {
		return false
	}

	return c.PublishRaw(ctx, topic, raw, false) == nil
}

// Statistics returns a snapshot of connection and throughput counters
// (§4.4).
func (c *Client) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.subscribed))
	for p := range c.subscribed {
		topics = append(topics, p)
	}

	return Statistics{
		ConnectedAt:      c.connectedAt,
		PublishedCount:   atomic.LoadUint64(&c.publishedCount),
		ReceivedCount:    atomic.LoadUint64(&c.receivedCount),
		SubscribedTopics: topics,
		ReconnectCount:   c.reconnectCount,
		LastMessageAt:    c.lastMessageAt.Load(),
		IsConnected:      c.client != nil && c.client.IsConnected(),
	}
}
