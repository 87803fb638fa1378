package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

// op is one recorded call on a fakeConn.
type op struct {
	kind     string // "publish", "subscribe", "unsubscribe", "close"
	topic    string
	payload  string
	retained bool
}

// fakeConn records every call and lets tests deliver messages.
type fakeConn struct {
	mu       sync.Mutex
	ops      []op
	handlers map[string]mqtt.MessageHandler
	onLost   func(error)

	publishErr error
}

func (c *fakeConn) record(o op) {
	c.mu.Lock()
	c.ops = append(c.ops, o)
	c.mu.Unlock()
}

func (c *fakeConn) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	c.record(op{kind: "subscribe", topic: topic})
	return nil
}

func (c *fakeConn) Unsubscribe(topic string) error {
	c.record(op{kind: "unsubscribe", topic: topic})
	return nil
}

func (c *fakeConn) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	err := c.publishErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.record(op{kind: "publish", topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (c *fakeConn) Close() error {
	c.record(op{kind: "close"})
	return nil
}

// deliver simulates the broker routing a message to the subscriber.
func (c *fakeConn) deliver(topic string, payload []byte) error {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription for %s", topic)
	}
	return h(topic, payload)
}

// lose simulates the broker dropping the session.
func (c *fakeConn) lose(err error) {
	c.onLost(err)
}

func (c *fakeConn) snapshot() []op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]op, len(c.ops))
	copy(out, c.ops)
	return out
}

// count returns how many recorded ops match kind and topic (any topic if empty).
func (c *fakeConn) count(kind, topic string, match func(op) bool) int {
	n := 0
	for _, o := range c.snapshot() {
		if o.kind != kind || (topic != "" && o.topic != topic) {
			continue
		}
		if match == nil || match(o) {
			n++
		}
	}
	return n
}

func isRetract(o op) bool  { return o.retained && o.payload == "" }
func isAnnounce(o op) bool { return o.retained && o.payload != "" }

// fakeDialer hands out fakeConns. Attempts listed in failures fail.
type fakeDialer struct {
	mu       sync.Mutex
	attempts int
	failures map[int]bool
	failAll  bool
	conns    []*fakeConn
}

var errDialRefused = errors.New("connection refused")

func (d *fakeDialer) dial(ctx context.Context, onLost func(error)) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failAll || d.failures[d.attempts] {
		return nil, errDialRefused
	}

	c := &fakeConn{handlers: make(map[string]mqtt.MessageHandler), onLost: onLost}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// call is one recorded executor invocation.
type call struct {
	name    string
	command string
}

// fakeExecutor records invocations and completes them immediately.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []call
	waits int
}

func (e *fakeExecutor) Go(name, commandLine string, done func(process.Outcome)) string {
	e.mu.Lock()
	e.calls = append(e.calls, call{name: name, command: commandLine})
	id := fmt.Sprintf("exec-%d", len(e.calls))
	e.mu.Unlock()

	go done(process.Outcome{Name: name, ExecutionID: id, ExitCode: 0, Duration: 5 * time.Millisecond})
	return id
}

func (e *fakeExecutor) Wait(time.Duration) bool {
	e.mu.Lock()
	e.waits++
	e.mu.Unlock()
	return true
}

func (e *fakeExecutor) snapshot() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]call, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *fakeExecutor) waitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waits
}
