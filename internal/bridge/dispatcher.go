package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rytilahti/mqtt-bridge/internal/action"
	"github.com/rytilahti/mqtt-bridge/internal/discovery"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

// Reconnect defaults, used for zero fields of ReconnectPolicy.
const (
	defaultInitialDelay    = time.Second
	defaultMaxDelay        = 60 * time.Second
	defaultStartupAttempts = 5
	defaultStableAfter     = 60 * time.Second
	defaultGracePeriod     = 10 * time.Second
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ReconnectPolicy controls connection retries.
type ReconnectPolicy struct {
	// InitialDelay is the first retry delay.
	InitialDelay time.Duration

	// MaxDelay caps the retry delay.
	MaxDelay time.Duration

	// StartupAttempts bounds connection attempts before the first success.
	StartupAttempts int

	// StableAfter is how long a session must last for the delay to reset.
	StableAfter time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	// Registry holds the actions to serve. Required.
	Registry *action.Registry

	// Publisher builds discovery and availability messages. Required.
	Publisher *discovery.Publisher

	// Dial opens broker sessions. Required.
	Dial DialFunc

	// Executor runs action commands. Required.
	Executor Executor

	// Logger is optional.
	Logger Logger

	// QoS is used for subscriptions and publishes.
	QoS byte

	// Discovery enables announcing and retracting discovery documents.
	Discovery bool

	// RetractOnShutdown retracts discovery documents on graceful shutdown.
	RetractOnShutdown bool

	// PublishResults publishes an outcome document after every execution.
	PublishResults bool

	// GracePeriod bounds how long shutdown waits for running commands.
	GracePeriod time.Duration

	Reconnect ReconnectPolicy
}

// Dispatcher owns the broker session and routes action calls.
//
// Run must be called at most once. State may be called from any goroutine.
type Dispatcher struct {
	opts    Options
	actions []action.Action
	topics  mqtt.Topics
	logger  Logger

	state atomic.Int32
	inbox *inbox

	// Owned by the loop goroutine.
	conn        Conn
	gen         uint64
	connectedAt time.Time
	retry       *backoff.ExponentialBackOff
	retryTimer  *time.Timer
}

// New validates opts and creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Registry == nil:
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidOptions)
	case opts.Publisher == nil:
		return nil, fmt.Errorf("%w: discovery publisher is required", ErrInvalidOptions)
	case opts.Dial == nil:
		return nil, fmt.Errorf("%w: dial function is required", ErrInvalidOptions)
	case opts.Executor == nil:
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidOptions)
	case opts.QoS > 2:
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}

	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	applyReconnectDefaults(&opts.Reconnect)

	return &Dispatcher{
		opts:    opts,
		actions: opts.Registry.All(),
		topics:  mqtt.Topics{Instance: opts.Registry.Instance()},
		logger:  opts.Logger,
		inbox:   newInbox(),
		retry:   newBackOff(opts.Reconnect),
	}, nil
}

func applyReconnectDefaults(p *ReconnectPolicy) {
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = max(defaultMaxDelay, p.InitialDelay)
	}
	if p.StartupAttempts <= 0 {
		p.StartupAttempts = defaultStartupAttempts
	}
	if p.StableAfter <= 0 {
		p.StableAfter = defaultStableAfter
	}
}

// newBackOff builds an exponential schedule that never gives up on its own.
func newBackOff(p ReconnectPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// State returns the current connection state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	if old := State(d.state.Swap(int32(s))); old != s {
		d.logger.Debug("connection state changed", "from", old.String(), "to", s.String())
	}
}

// Run connects and serves action calls until ctx is cancelled.
//
// It returns ErrConnectionFailed if the broker cannot be reached within
// the startup attempts, and nil after a graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.connectStartup(ctx); err != nil {
		d.setState(Disconnected)
		if ctx.Err() != nil {
			d.logger.Info("shutdown requested before connecting")
			return nil
		}
		return err
	}

	for {
		var retryC <-chan time.Time
		if d.retryTimer != nil {
			retryC = d.retryTimer.C
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return nil

		case <-d.inbox.notify:
			for _, ev := range d.inbox.drain() {
				d.handle(ev)
			}

		case <-retryC:
			d.retryTimer = nil
			d.reconnect(ctx)
		}
	}
}

// connectStartup makes up to StartupAttempts connection attempts.
func (d *Dispatcher) connectStartup(ctx context.Context) error {
	attempts := d.opts.Reconnect.StartupAttempts
	b := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(d.opts.Reconnect), uint64(attempts-1)),
		ctx,
	)

	var conn Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, err := d.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		d.setState(ReconnectPending)
		d.logger.Warn("MQTT connection attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempt, err)
	}

	d.onConnected(conn)
	return nil
}

// dial opens a session tagged with a fresh generation.
func (d *Dispatcher) dial(ctx context.Context) (Conn, error) {
	d.setState(Connecting)
	d.gen++
	gen := d.gen

	return d.opts.Dial(ctx, func(err error) {
		d.inbox.push(event{kind: eventConnectionLost, gen: gen, err: err})
	})
}

// onConnected brings a fresh session into service: availability,
// subscriptions, then discovery, each in registry order.
func (d *Dispatcher) onConnected(conn Conn) {
	d.conn = conn
	d.connectedAt = time.Now()
	d.setState(Connected)

	d.logger.Info("MQTT connected", "actions", len(d.actions))

	if err := d.publish(d.opts.Publisher.Online()); err != nil {
		d.logger.Warn("failed to publish availability", "error", err)
	}

	gen := d.gen
	handler := func(topic string, payload []byte) error {
		d.inbox.push(event{kind: eventMessage, gen: gen, topic: topic, payload: payload})
		return nil
	}

	for _, a := range d.actions {
		if err := conn.Subscribe(a.Topic, d.opts.QoS, handler); err != nil {
			d.logger.Error("failed to subscribe action topic",
				"action", a.Name,
				"topic", a.Topic,
				"error", err,
			)
			continue
		}
		d.logger.Debug("subscribed action topic", "action", a.Name, "topic", a.Topic)
	}

	if d.opts.Discovery {
		d.announceAll()
	}
}

// announceAll publishes every discovery document. Failures are retried on
// the next reconnect.
func (d *Dispatcher) announceAll() {
	failed := 0
	for _, a := range d.actions {
		msg, err := d.opts.Publisher.Announce(a)
		if err == nil {
			err = d.publish(msg)
		}
		if err != nil {
			failed++
			d.logger.Warn("failed to announce action", "action", a.Name, "error", err)
		}
	}
	d.logger.Info("discovery announced", "actions", len(d.actions)-failed, "failed", failed)
}

func (d *Dispatcher) handle(ev event) {
	switch ev.kind {
	case eventMessage:
		d.handleMessage(ev)
	case eventConnectionLost:
		d.handleConnectionLost(ev)
	case eventExecutionDone:
		d.handleExecutionDone(ev)
	}
}

// handleMessage dispatches the action owning the topic. The payload is
// only a trigger and is not interpreted.
func (d *Dispatcher) handleMessage(ev event) {
	if ev.gen != d.gen || d.State() != Connected {
		d.logger.Debug("dropping message from closed session", "topic", ev.topic)
		return
	}

	a, ok := d.opts.Registry.Lookup(ev.topic)
	if !ok {
		d.logger.Debug("ignoring message on unknown topic", "topic", ev.topic)
		return
	}

	id := d.opts.Executor.Go(a.Name, a.Command, func(o process.Outcome) {
		d.inbox.push(event{kind: eventExecutionDone, action: a, outcome: o})
	})

	d.logger.Info("action triggered",
		"action", a.Name,
		"topic", ev.topic,
		"execution_id", id,
		"payload_bytes", len(ev.payload),
	)
}

func (d *Dispatcher) handleConnectionLost(ev event) {
	if ev.gen != d.gen || d.State() != Connected {
		return
	}

	uptime := time.Since(d.connectedAt)
	_ = d.conn.Close()
	d.conn = nil

	if uptime >= d.opts.Reconnect.StableAfter {
		d.retry.Reset()
	}
	d.scheduleReconnect()

	d.logger.Warn("MQTT connection lost",
		"error", ev.err,
		"uptime", uptime,
	)
}

func (d *Dispatcher) scheduleReconnect() {
	delay := d.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = d.opts.Reconnect.MaxDelay
	}
	d.setState(ReconnectPending)
	d.retryTimer = time.NewTimer(delay)
	d.logger.Info("MQTT reconnect scheduled", "retry_in", delay)
}

func (d *Dispatcher) reconnect(ctx context.Context) {
	conn, err := d.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.setState(Disconnected)
			return
		}
		d.logger.Warn("MQTT reconnect failed", "error", err)
		d.scheduleReconnect()
		return
	}
	d.onConnected(conn)
}

// resultDocument is the JSON published on an action's result topic.
type resultDocument struct {
	ExecutionID string `json:"execution_id"`
	ExitCode    int    `json:"exit_code"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

func (d *Dispatcher) handleExecutionDone(ev event) {
	if !d.opts.PublishResults || d.State() != Connected {
		return
	}

	doc := resultDocument{
		ExecutionID: ev.outcome.ExecutionID,
		ExitCode:    ev.outcome.ExitCode,
		DurationMS:  ev.outcome.Duration.Milliseconds(),
	}
	if ev.outcome.Err != nil {
		doc.Error = ev.outcome.Err.Error()
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		d.logger.Error("encoding result document", "action", ev.action.Name, "error", err)
		return
	}

	msg := discovery.Message{Topic: d.topics.ActionResult(ev.action.Slug), Payload: payload}
	if err := d.publish(msg); err != nil {
		d.logger.Warn("failed to publish result",
			"action", ev.action.Name,
			"execution_id", ev.outcome.ExecutionID,
			"error", err,
		)
	}
}

// shutdown retracts, marks the instance offline and closes the session,
// then waits a bounded time for running commands.
func (d *Dispatcher) shutdown() {
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}

	if d.State() == Connected && d.conn != nil {
		if d.opts.Discovery && d.opts.RetractOnShutdown {
			for _, a := range d.actions {
				if err := d.publish(d.opts.Publisher.Retract(a)); err != nil {
					d.logger.Warn("failed to retract action", "action", a.Name, "error", err)
				}
			}
		}
		if err := d.publish(d.opts.Publisher.Offline()); err != nil {
			d.logger.Warn("failed to publish availability", "error", err)
		}
		for _, a := range d.actions {
			if err := d.conn.Unsubscribe(a.Topic); err != nil {
				d.logger.Debug("failed to unsubscribe", "topic", a.Topic, "error", err)
			}
		}
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("closing MQTT connection", "error", err)
		}
		d.conn = nil
	}
	d.setState(Disconnected)

	d.logger.Info("waiting for running commands", "grace_period", d.opts.GracePeriod)
	if !d.opts.Executor.Wait(d.opts.GracePeriod) {
		d.logger.Warn("exiting with commands still running")
	}
}

func (d *Dispatcher) publish(msg discovery.Message) error {
	return d.conn.Publish(msg.Topic, msg.Payload, d.opts.QoS, msg.Retain)
}
