// Package bridge owns the broker connection and dispatches action calls.
//
// A Dispatcher runs one event loop. The loop is the only goroutine that
// touches the connection: it connects, subscribes every action's call
// topic, announces discovery documents, hands incoming calls to the
// executor and, on shutdown, retracts what it announced.
//
// Connection lifecycle:
//
//	Disconnected -> Connecting -> Connected -> ReconnectPending -> Connecting -> ...
//
// Startup connection attempts are bounded; once connected, dropped
// sessions are re-established forever with an exponential backoff that
// resets after a connection has stayed up for a while. A dropped session
// never retracts discovery documents, so Home Assistant keeps its buttons
// through network blips and only greys them out via the availability topic.
//
// Every session starts clean and any payload on a call topic triggers its
// action. A retained message left on a call topic is therefore redelivered
// and executed again after each connect, including every reconnect. Home
// Assistant publishes button presses unretained.
//
// Broker callbacks only enqueue events; they never block, so a slow
// command can never stall message delivery or keepalives.
package bridge
