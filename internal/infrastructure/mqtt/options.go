package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 500 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Will is the Last Will and Testament registered with the broker.
// The broker publishes it if the session ends without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Options carries per-session settings that are not part of the file configuration.
type Options struct {
	// Will is registered as the session's LWT when non-nil.
	Will *Will

	// OnConnectionLost is called once when the broker session drops
	// unexpectedly. It is not called after Close.
	OnConnectionLost func(err error)

	// ConnectTimeout overrides defaultConnectTimeout when positive.
	ConnectTimeout time.Duration
}

// brokerURL returns the tcp:// or ssl:// URL for the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// buildClientOptions creates paho MQTT options from mqttbridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Single-session mode: no paho auto-reconnect or connect retry
//   - In-order handler invocation
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.MQTTConfig, timeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.ClientID)

	// Authentication (if credentials provided)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - subscriptions are re-established by the caller
	opts.SetCleanSession(true)

	// The dispatcher owns reconnection and its backoff schedule
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Deliver messages to handlers sequentially, in broker order
	opts.SetOrderMatters(true)

	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(cfg.KeepAliveDuration())

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (crash, network failure, etc.). mqttbridge registers
// "offline" on its availability topic so Home Assistant greys out the
// buttons while the bridge is unreachable.
func configureLWT(opts *pahomqtt.ClientOptions, will *Will) {
	if will == nil || will.Topic == "" {
		return
	}
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
}
