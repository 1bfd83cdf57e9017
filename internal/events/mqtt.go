// Package events implements the optional, disabled-by-default command
// event fan-out SPEC_FULL.md §4 adds: a ports.EventPublisher backed by
// MQTT, publishing one small JSON line per successful mutating command.
// It is observability, not replication — nothing subscribes back to
// mutate the server's state, and the core's correctness never depends on
// a subscriber existing or reacting. Modeled on the shape of the
// teacher's internal/mqtt Publisher interface (Publish/Close, a single
// long-lived client), simplified: no publish-pool or ack-wait machinery,
// since a KV command publish is fire-and-forget at QoS 0/1 rather than a
// guaranteed-delivery stream event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kvdaemon/kvdaemon/internal/ports"
)

// Config configures the MQTT-backed publisher.
type Config struct {
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// commandEvent is the JSON line published for each mutating command.
type commandEvent struct {
	Op  string `json:"op"`
	Key string `json:"key"`
	At  int64  `json:"at"`
}

// Publisher is a ports.EventPublisher backed by a single long-lived MQTT
// client connection.
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  ports.Logger
}

// New connects to cfg.Broker and returns a ready Publisher. The client is
// configured to retry its connect attempt, so an unreachable broker
// surfaces as a connect timeout after cfg.ConnectTimeout; that and any
// other connect error are returned to the caller, which decides whether a
// failed event publisher should abort startup or just run disabled (the
// latter is SPEC_FULL.md's default posture, since events never gate
// correctness).
func New(cfg Config, logger ports.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("events: mqtt connect timed out after %s", cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("events: mqtt connect: %w", err)
	}

	return &Publisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.WriteTimeout,
		logger:  logger,
	}, nil
}

// Publish fire-and-forgets a JSON event for op on key. It waits only up
// to p.timeout for the local client to accept the publish, not for
// broker acknowledgment past the configured QoS.
func (p *Publisher) Publish(ctx context.Context, op string, key string) error {
	payload, err := json.Marshal(commandEvent{Op: op, Key: key, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("events: publish timed out after %s", p.timeout)
	}
	return token.Error()
}

// Close disconnects the underlying MQTT client, waiting up to 250ms for
// in-flight publishes to drain.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
