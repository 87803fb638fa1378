package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rytilahti/mqtt-bridge/internal/action"
	"github.com/rytilahti/mqtt-bridge/internal/discovery"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var fastReconnect = ReconnectPolicy{
	InitialDelay:    5 * time.Millisecond,
	MaxDelay:        20 * time.Millisecond,
	StartupAttempts: 3,
	StableAfter:     time.Hour,
}

const (
	sleepTopic     = "mqttbridge/moin/sleep_some/call"
	lampTopic      = "mqttbridge/moin/lamp/call"
	sleepDiscovery = "homeassistant/button/moin_sleep_some/config"
	lampDiscovery  = "homeassistant/button/moin_lamp/config"
	availability   = "mqttbridge/moin/available"
)

func testRegistry(t *testing.T) *action.Registry {
	t.Helper()
	reg, err := action.Build([]action.Definition{
		{Name: "Sleep some", Icon: "mdi:sleep", Command: "/usr/bin/sleep 10"},
		{Name: "Lamp", Command: "lamp toggle"},
	}, "moin")
	if err != nil {
		t.Fatalf("action.Build() error = %v", err)
	}
	return reg
}

func testPublisher(t *testing.T) *discovery.Publisher {
	t.Helper()
	p, err := discovery.New(discovery.Config{Instance: "moin"})
	if err != nil {
		t.Fatalf("discovery.New() error = %v", err)
	}
	return p
}

// never fails the test if cond becomes true within d.
func never(t *testing.T, cond func() bool, d time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			t.Errorf("condition became true: %s", msg)
			return
		}
		time.Sleep(tick)
	}
}

type harness struct {
	dispatcher *Dispatcher
	dialer     *fakeDialer
	executor   *fakeExecutor
	cancel     context.CancelFunc
	done       chan error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		dialer:   &fakeDialer{failures: map[int]bool{}},
		executor: &fakeExecutor{},
		done:     make(chan error, 1),
	}
	opts := Options{
		Registry:          testRegistry(t),
		Publisher:         testPublisher(t),
		Dial:              h.dialer.dial,
		Executor:          h.executor,
		QoS:               1,
		Discovery:         true,
		RetractOnShutdown: true,
		GracePeriod:       time.Second,
		Reconnect:         fastReconnect,
	}
	if mutate != nil {
		mutate(&opts)
	}

	d, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.dispatcher = d
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.dispatcher.Run(ctx) }()
	t.Cleanup(cancel)
}

func (h *harness) startConnected(t *testing.T) *fakeConn {
	t.Helper()
	h.start(t)
	require.Eventually(t, func() bool { return h.dispatcher.State() == Connected }, waitFor, tick)
	return h.dialer.conn(0)
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewValidation(t *testing.T) {
	reg := testRegistry(t)
	pub := testPublisher(t)
	dial := (&fakeDialer{}).dial
	exec := &fakeExecutor{}

	tests := []struct {
		name string
		opts Options
	}{
		{"missing registry", Options{Publisher: pub, Dial: dial, Executor: exec}},
		{"missing publisher", Options{Registry: reg, Dial: dial, Executor: exec}},
		{"missing dial", Options{Registry: reg, Publisher: pub, Executor: exec}},
		{"missing executor", Options{Registry: reg, Publisher: pub, Dial: dial}},
		{"invalid qos", Options{Registry: reg, Publisher: pub, Dial: dial, Executor: exec, QoS: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("New() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	d, err := New(Options{
		Registry:  testRegistry(t),
		Publisher: testPublisher(t),
		Dial:      (&fakeDialer{}).dial,
		Executor:  &fakeExecutor{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := ReconnectPolicy{
		InitialDelay:    defaultInitialDelay,
		MaxDelay:        defaultMaxDelay,
		StartupAttempts: defaultStartupAttempts,
		StableAfter:     defaultStableAfter,
	}
	if d.opts.Reconnect != want {
		t.Errorf("Reconnect = %+v, want %+v", d.opts.Reconnect, want)
	}
	if d.opts.GracePeriod != defaultGracePeriod {
		t.Errorf("GracePeriod = %v, want %v", d.opts.GracePeriod, defaultGracePeriod)
	}
	if got := d.State(); got != Disconnected {
		t.Errorf("State() = %v, want %v", got, Disconnected)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{ReconnectPending, "reconnect_pending"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestConnectSubscribesAndAnnounces(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.startConnected(t)

	want := []op{
		{kind: "publish", topic: availability, payload: "online", retained: true},
		{kind: "subscribe", topic: sleepTopic},
		{kind: "subscribe", topic: lampTopic},
	}
	ops := conn.snapshot()
	if len(ops) < 5 {
		t.Fatalf("recorded %d ops, want at least 5: %+v", len(ops), ops)
	}
	if !slices.Equal(ops[:3], want) {
		t.Errorf("first ops = %+v, want %+v", ops[:3], want)
	}

	if ops[3].kind != "publish" || ops[3].topic != sleepDiscovery || !ops[3].retained {
		t.Errorf("ops[3] = %+v, want retained publish to %s", ops[3], sleepDiscovery)
	}
	if ops[4].topic != lampDiscovery {
		t.Errorf("ops[4].topic = %q, want %q", ops[4].topic, lampDiscovery)
	}

	var doc discovery.ButtonConfig
	if err := json.Unmarshal([]byte(ops[3].payload), &doc); err != nil {
		t.Fatalf("unmarshal discovery document: %v", err)
	}
	if doc.CommandTopic != sleepTopic {
		t.Errorf("command_topic = %q, want %q", doc.CommandTopic, sleepTopic)
	}

	h.stop(t)
}

func TestDiscoveryDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Discovery = false })
	conn := h.startConnected(t)

	if got := conn.count("subscribe", "", nil); got != 2 {
		t.Errorf("subscribe count = %d, want 2", got)
	}
	if got := conn.count("publish", sleepDiscovery, nil); got != 0 {
		t.Errorf("discovery publishes = %d, want 0", got)
	}

	h.stop(t)

	if got := conn.count("publish", sleepDiscovery, nil); got != 0 {
		t.Errorf("discovery publishes after shutdown = %d, want 0", got)
	}
	if got := conn.count("publish", availability, func(o op) bool { return o.payload == "offline" }); got != 1 {
		t.Errorf("offline publishes = %d, want 1", got)
	}
}

func TestMessageRouting(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.startConnected(t)

	payloads := [][]byte{[]byte("PRESS"), nil, []byte(""), []byte(`{"unexpected":"json"}`)}
	for _, p := range payloads {
		if err := conn.deliver(lampTopic, p); err != nil {
			t.Fatalf("deliver(%q) error = %v", p, err)
		}
	}

	require.Eventually(t, func() bool { return len(h.executor.snapshot()) == len(payloads) }, waitFor, tick)
	want := call{name: "Lamp", command: "lamp toggle"}
	for i, c := range h.executor.snapshot() {
		if c != want {
			t.Errorf("call[%d] = %+v, want %+v", i, c, want)
		}
	}

	if err := conn.deliver(sleepTopic, nil); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	require.Eventually(t, func() bool { return len(h.executor.snapshot()) == len(payloads)+1 }, waitFor, tick)
	if got := h.executor.snapshot()[len(payloads)].command; got != "/usr/bin/sleep 10" {
		t.Errorf("command = %q, want %q", got, "/usr/bin/sleep 10")
	}

	h.stop(t)
}

func TestUnknownTopicIgnored(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.startConnected(t)

	// A handler registered for one topic may still see a stray topic name.
	conn.mu.Lock()
	conn.handlers["mqttbridge/moin/unknown/call"] = conn.handlers[lampTopic]
	conn.mu.Unlock()

	for _, topic := range []string{"mqttbridge/moin/unknown/call", lampTopic} {
		if err := conn.deliver(topic, []byte("PRESS")); err != nil {
			t.Fatalf("deliver(%s) error = %v", topic, err)
		}
	}

	require.Eventually(t, func() bool { return len(h.executor.snapshot()) == 1 }, waitFor, tick)
	never(t, func() bool { return len(h.executor.snapshot()) > 1 }, 100*time.Millisecond, "unknown topic executed")
	if got := h.executor.snapshot()[0].name; got != "Lamp" {
		t.Errorf("executed %q, want Lamp", got)
	}

	h.stop(t)
}

func TestReconnectReannouncesWithoutRetracting(t *testing.T) {
	h := newHarness(t, nil)
	first := h.startConnected(t)

	first.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.dispatcher.State() == Connected }, waitFor, tick)

	second := h.dialer.conn(1)
	require.Eventually(t, func() bool { return second.count("publish", lampDiscovery, isAnnounce) == 1 }, waitFor, tick)

	for _, topic := range []string{sleepDiscovery, lampDiscovery} {
		for i, c := range []*fakeConn{first, second} {
			if got := c.count("publish", topic, isRetract); got != 0 {
				t.Errorf("session %d: retracts of %s = %d, want 0", i, topic, got)
			}
			if got := c.count("publish", topic, isAnnounce); got != 1 {
				t.Errorf("session %d: announces of %s = %d, want 1", i, topic, got)
			}
		}
	}
	if got := first.count("close", "", nil); got != 1 {
		t.Errorf("lost session closes = %d, want 1", got)
	}
	if got := second.count("subscribe", "", nil); got != 2 {
		t.Errorf("resubscribes = %d, want 2", got)
	}

	// Announcements are byte-identical across sessions.
	announced := func(c *fakeConn) string {
		for _, o := range c.snapshot() {
			if o.topic == sleepDiscovery {
				return o.payload
			}
		}
		return ""
	}
	if a, b := announced(first), announced(second); a != b {
		t.Errorf("announcement changed across sessions:\n%s\n%s", a, b)
	}

	h.stop(t)
}

func TestRepeatedReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.startConnected(t)

	for i := 0; i < 3; i++ {
		h.dialer.conn(i).lose(errors.New("network blip"))
		require.Eventually(t, func() bool { return h.dialer.connCount() == i+2 }, waitFor, tick)
		require.Eventually(t, func() bool { return h.dispatcher.State() == Connected }, waitFor, tick)
	}

	for i := 0; i < 4; i++ {
		c := h.dialer.conn(i)
		require.Eventually(t, func() bool { return c.count("publish", lampDiscovery, isAnnounce) == 1 }, waitFor, tick)
		if got := c.count("publish", "", isRetract); got != 0 {
			t.Errorf("session %d: retracts = %d, want 0", i, got)
		}
	}

	h.stop(t)
}

func TestStaleConnectionLostIgnored(t *testing.T) {
	h := newHarness(t, nil)
	first := h.startConnected(t)

	first.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.dispatcher.State() == Connected }, waitFor, tick)

	first.lose(errors.New("late callback"))
	never(t, func() bool { return h.dialer.attemptCount() > 2 }, 100*time.Millisecond, "stale loss triggered a redial")
	if got := h.dispatcher.State(); got != Connected {
		t.Errorf("State() = %v, want %v", got, Connected)
	}

	h.stop(t)
}

func TestMessagesFromLostSessionDropped(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Reconnect.InitialDelay = time.Hour
		o.Reconnect.MaxDelay = time.Hour
	})
	conn := h.startConnected(t)

	conn.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return h.dispatcher.State() == ReconnectPending }, waitFor, tick)

	if err := conn.deliver(lampTopic, nil); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	never(t, func() bool { return len(h.executor.snapshot()) > 0 }, 100*time.Millisecond, "message from lost session executed")

	h.stop(t)
	if got := conn.count("publish", "", isRetract); got != 0 {
		t.Errorf("retracts while disconnected = %d, want 0", got)
	}
}

func TestReconnectRetriesFailedDials(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.failures[2] = true
	h.dialer.failures[3] = true
	first := h.startConnected(t)

	first.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return h.dialer.connCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.dispatcher.State() == Connected }, waitFor, tick)
	if got := h.dialer.attemptCount(); got != 4 {
		t.Errorf("dial attempts = %d, want 4", got)
	}

	h.stop(t)
}

func TestShutdownRetractsAndCloses(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.startConnected(t)
	before := len(conn.snapshot())

	h.stop(t)

	ops := conn.snapshot()[before:]
	want := []op{
		{kind: "publish", topic: sleepDiscovery, payload: "", retained: true},
		{kind: "publish", topic: lampDiscovery, payload: "", retained: true},
		{kind: "publish", topic: availability, payload: "offline", retained: true},
		{kind: "unsubscribe", topic: sleepTopic},
		{kind: "unsubscribe", topic: lampTopic},
		{kind: "close"},
	}
	if !slices.Equal(ops, want) {
		t.Errorf("shutdown ops = %+v, want %+v", ops, want)
	}
	if got := h.dispatcher.State(); got != Disconnected {
		t.Errorf("State() = %v, want %v", got, Disconnected)
	}
	if got := h.executor.waitCount(); got != 1 {
		t.Errorf("executor waits = %d, want 1", got)
	}
}

func TestShutdownWithoutRetract(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RetractOnShutdown = false })
	conn := h.startConnected(t)

	h.stop(t)

	if got := conn.count("publish", "", isRetract); got != 0 {
		t.Errorf("retracts = %d, want 0", got)
	}
	if got := conn.count("close", "", nil); got != 1 {
		t.Errorf("closes = %d, want 1", got)
	}
}

func TestStartupFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.failAll = true
	h.start(t)

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("Run() error = %v, want ErrConnectionFailed", err)
		}
		if !errors.Is(err, errDialRefused) {
			t.Errorf("Run() error = %v, want wrapped dial error", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run() did not give up")
	}
	if got := h.dialer.attemptCount(); got != fastReconnect.StartupAttempts {
		t.Errorf("dial attempts = %d, want %d", got, fastReconnect.StartupAttempts)
	}
	if got := h.dispatcher.State(); got != Disconnected {
		t.Errorf("State() = %v, want %v", got, Disconnected)
	}
}

func TestStartupSucceedsAfterRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.failures[1] = true
	h.dialer.failures[2] = true

	h.startConnected(t)
	if got := h.dialer.attemptCount(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}

	h.stop(t)
}

func TestStartupCancelled(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Reconnect.StartupAttempts = 1000
		o.Reconnect.InitialDelay = 50 * time.Millisecond
	})
	h.dialer.failAll = true
	h.start(t)

	require.Eventually(t, func() bool { return h.dialer.attemptCount() >= 1 }, waitFor, tick)
	h.cancel()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestPublishResults(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PublishResults = true })
	conn := h.startConnected(t)

	if err := conn.deliver(lampTopic, []byte("PRESS")); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	resultTopic := "mqttbridge/moin/lamp/result"
	require.Eventually(t, func() bool { return conn.count("publish", resultTopic, nil) == 1 }, waitFor, tick)

	var got resultDocument
	for _, o := range conn.snapshot() {
		if o.topic == resultTopic {
			if o.retained {
				t.Error("result published retained")
			}
			if err := json.Unmarshal([]byte(o.payload), &got); err != nil {
				t.Fatalf("unmarshal result: %v", err)
			}
		}
	}
	want := resultDocument{ExecutionID: "exec-1", ExitCode: 0, DurationMS: 5}
	if got != want {
		t.Errorf("result = %+v, want %+v", got, want)
	}

	h.stop(t)
}

func TestResultsNotPublishedByDefault(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.startConnected(t)

	if err := conn.deliver(lampTopic, nil); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	require.Eventually(t, func() bool { return len(h.executor.snapshot()) == 1 }, waitFor, tick)
	never(t, func() bool { return conn.count("publish", "mqttbridge/moin/lamp/result", nil) > 0 }, 100*time.Millisecond, "result published")

	h.stop(t)
}

func TestAnnounceFailureKeepsRunning(t *testing.T) {
	dialer := &fakeDialer{failures: map[int]bool{}}
	h := newHarness(t, func(o *Options) {
		o.Dial = func(ctx context.Context, onLost func(error)) (Conn, error) {
			c, err := dialer.dial(ctx, onLost)
			if err == nil {
				c.(*fakeConn).publishErr = errors.New("not authorized")
			}
			return c, err
		}
	})
	h.dialer = dialer
	conn := h.startConnected(t)

	if got := conn.count("subscribe", "", nil); got != 2 {
		t.Errorf("subscribe count = %d, want 2", got)
	}
	if err := conn.deliver(lampTopic, nil); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	require.Eventually(t, func() bool { return len(h.executor.snapshot()) == 1 }, waitFor, tick)

	h.stop(t)
}

func TestSlowCommandDoesNotBlockDispatch(t *testing.T) {
	reg, err := action.Build([]action.Definition{
		{Name: "Slow", Command: "sleep 5"},
		{Name: "Fast", Command: "true"},
	}, "moin")
	if err != nil {
		t.Fatalf("action.Build() error = %v", err)
	}

	runner := process.NewRunner(process.Config{})
	h := newHarness(t, func(o *Options) {
		o.Registry = reg
		o.Executor = runner
		o.PublishResults = true
		o.GracePeriod = 100 * time.Millisecond
	})
	conn := h.startConnected(t)

	start := time.Now()
	for _, topic := range []string{"mqttbridge/moin/slow/call", "mqttbridge/moin/fast/call"} {
		if err := conn.deliver(topic, nil); err != nil {
			t.Fatalf("deliver(%s) error = %v", topic, err)
		}
	}

	require.Eventually(t, func() bool {
		return conn.count("publish", "mqttbridge/moin/fast/result", nil) == 1
	}, 2*time.Second, tick)
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("fast result after %v, want under 2s", elapsed)
	}
	if got := conn.count("publish", "mqttbridge/moin/slow/result", nil); got != 0 {
		t.Errorf("slow results = %d, want 0", got)
	}
	if got := runner.Running(); got != 1 {
		t.Errorf("Running() = %d, want 1", got)
	}

	h.stop(t)
}
