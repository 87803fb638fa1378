// Package mqtt provides MQTT client connectivity for mqttbridge.
//
// This package manages:
//   - One broker session per Client (paho auto-reconnect is disabled)
//   - Message publishing with QoS and timeout guarantees
//   - Topic subscriptions with panic-safe handlers
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders for the mqttbridge and discovery namespaces
//
// # Reconnection
//
// Reconnection is owned by the caller, not by paho. When the broker
// drops the session the OnConnectionLost hook fires exactly once and the
// Client is dead; the bridge dispatcher dials a fresh Client after its
// backoff delay and re-subscribes and re-announces from scratch. This
// keeps the connection state in a single place.
//
// # Ordering
//
// paho is configured with OrderMatters, so handlers run one at a time in
// delivery order. Handlers must return quickly; the dispatcher only
// enqueues the message.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Options{
//	    Will:             &mqtt.Will{Topic: topics.Availability(), Payload: []byte("offline"), QoS: 1, Retained: true},
//	    OnConnectionLost: func(err error) { log.Warn("lost", "error", err) },
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.ActionCall("sleep_some"), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
