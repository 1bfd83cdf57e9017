package events

import (
	"context"
	"testing"
	"time"
)

func TestNewFailsFastWhenBrokerUnreachable(t *testing.T) {
	_, err := New(Config{
		Broker:         "tcp://127.0.0.1:1",
		ClientID:       "test-client",
		Topic:          "kvdaemon/commands",
		QoS:            0,
		ConnectTimeout: 100 * time.Millisecond,
		WriteTimeout:   100 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("expected connection to an unreachable broker to fail")
	}
}

func TestPublishIsANoOpTypeCheck(t *testing.T) {
	// Compile-time/shape check only: Publisher must satisfy ports.EventPublisher.
	var _ = func(p *Publisher) {
		_ = p.Publish(context.Background(), "set", "k")
		_ = p.Close()
	}
}
