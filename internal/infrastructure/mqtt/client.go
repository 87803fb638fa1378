package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for a single broker session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Once the session is lost the Client stays disconnected; dial a new one.
type Client struct {
	client pahomqtt.Client

	// connected tracks current connection state.
	connected bool
	closed    bool
	connMu    sync.RWMutex

	onConnectionLost func(err error)

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked one at a time in delivery order by the paho router.
// They must not block; a blocked handler stalls acknowledgements for the
// whole session.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Connect establishes one session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Registers the Last Will from opts, if any
//  3. Attempts the connection, bounded by ctx and the connect timeout
//
// No retry happens here; callers decide when to try again.
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: Wrapping ErrConnectionFailed if the attempt fails
func Connect(ctx context.Context, cfg config.MQTTConfig, opts Options) (*Client, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	pahoOpts := buildClientOptions(cfg, timeout)
	configureLWT(pahoOpts, opts.Will)

	c := &Client{
		onConnectionLost: opts.OnConnectionLost,
	}

	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleConnectionLost is called by paho when the session drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	wasConnected := c.connected && !c.closed
	c.connected = false
	c.connMu.Unlock()

	if wasConnected && c.onConnectionLost != nil {
		c.onConnectionLost(err)
	}
}

// Close disconnects from the MQTT broker.
//
// Pending publishes get a short quiesce period. The broker does not
// publish the Last Will after a clean disconnect, so callers publish
// their own offline status first.
//
// Returns:
//   - error: Always nil; closing an already closed client is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.connMu.Unlock()

	c.client.Disconnect(defaultDisconnectQuiesce)

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
