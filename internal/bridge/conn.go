package bridge

import (
	"context"
	"time"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

// Conn is one broker session. *mqtt.Client satisfies it.
type Conn interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Close() error
}

// DialFunc opens a new session. onLost must be called at most once, when
// the session drops without Close having been called.
type DialFunc func(ctx context.Context, onLost func(error)) (Conn, error)

// Executor runs commands without blocking the caller.
// *process.Runner satisfies it.
type Executor interface {
	Go(name, commandLine string, done func(process.Outcome)) string
	Wait(timeout time.Duration) bool
}

// NewMQTTDialer returns a DialFunc that connects with paho using cfg and
// registers will as the session's Last Will.
func NewMQTTDialer(cfg config.MQTTConfig, will mqtt.Will, logger mqtt.Logger) DialFunc {
	return func(ctx context.Context, onLost func(error)) (Conn, error) {
		client, err := mqtt.Connect(ctx, cfg, mqtt.Options{
			Will:             &will,
			OnConnectionLost: onLost,
		})
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	}
}
