// Package testutil provides an embedded MQTT broker for tests.
//
// The broker is mochi-mqtt running in-process on a free loopback port,
// so tests exercise the real paho client without an external Mosquitto.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
)

// Message is one publish observed by a recording subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is an in-process MQTT broker bound to 127.0.0.1.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	mu       sync.Mutex
	received []Message
	subID    int
}

// StartBroker starts a broker and registers its shutdown with t.Cleanup.
func StartBroker(t testing.TB) *Broker {
	t.Helper()

	port := freePort(t)
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding allow hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()

	t.Cleanup(func() {
		_ = server.Close()
	})

	return &Broker{
		Server: server,
		Host:   "127.0.0.1",
		Port:   port,
	}
}

// MQTTConfig returns a client configuration pointing at the broker.
func (b *Broker) MQTTConfig(clientID, instance string) config.MQTTConfig {
	return config.MQTTConfig{
		Host:         b.Host,
		Port:         b.Port,
		ClientID:     clientID,
		InstanceName: instance,
		QoS:          1,
		KeepAlive:    30,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay:    1,
			MaxDelay:        2,
			StartupAttempts: 1,
			StableAfter:     60,
		},
	}
}

// Record subscribes an inline client to filter and keeps every message it sees.
func (b *Broker) Record(t testing.TB, filter string) {
	t.Helper()

	b.mu.Lock()
	b.subID++
	id := b.subID
	b.mu.Unlock()

	err := b.Server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		payload := make([]byte, len(pk.Payload))
		copy(payload, pk.Payload)

		b.mu.Lock()
		b.received = append(b.received, Message{Topic: pk.TopicName, Payload: payload})
		b.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("inline subscribe %q: %v", filter, err)
	}
}

// Messages returns recorded messages whose topic starts with prefix.
func (b *Broker) Messages(prefix string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.received {
		if strings.HasPrefix(m.Topic, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// Publish injects a message as if a remote client had sent it.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.Server.Publish(topic, payload, false, 1)
}

// PublishRetained injects a retained message as if a client had sent it.
func (b *Broker) PublishRetained(topic string, payload []byte) error {
	return b.Server.Publish(topic, payload, true, 1)
}

// Retained returns the retained payload stored for topic.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	msgs := b.Server.Topics.Messages(topic)
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[0].Payload, true
}

// Kick drops a client's network connection without a clean disconnect,
// which makes the broker publish its Last Will.
func (b *Broker) Kick(clientID string) bool {
	cl, ok := b.Server.Clients.Get(clientID)
	if !ok {
		return false
	}
	cl.Stop(fmt.Errorf("kicked by test"))
	return true
}

// freePort asks the kernel for an unused loopback port.
func freePort(t testing.TB) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
