package mqtt

import "fmt"

const (
	// TopicPrefix is the base for all mqttbridge topics.
	// Scheme: mqttbridge/{instance}/{slug}/{verb}
	TopicPrefix = "mqttbridge"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"

	// ComponentButton is the HA entity component used for actions.
	ComponentButton = "button"
)

// Topics provides builders for one instance's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Instance: "moin"}
//	callTopic := topics.ActionCall("sleep_some")
//	// Returns: "mqttbridge/moin/sleep_some/call"
type Topics struct {
	Instance string
}

// Base returns the namespace shared by every topic of the instance.
//
// Example: mqttbridge/moin
func (t Topics) Base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Instance)
}

// ActionCall returns the topic that triggers an action.
//
// Example: mqttbridge/moin/sleep_some/call
func (t Topics) ActionCall(slug string) string {
	return fmt.Sprintf("%s/%s/call", t.Base(), slug)
}

// ActionResult returns the topic execution outcomes are published to.
//
// Example: mqttbridge/moin/sleep_some/result
func (t Topics) ActionResult(slug string) string {
	return fmt.Sprintf("%s/%s/result", t.Base(), slug)
}

// Availability returns the online/offline status topic.
//
// Example: mqttbridge/moin/available
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/available", t.Base())
}

// DiscoveryConfig returns the Home Assistant discovery config topic.
//
// Example: homeassistant/button/moin_sleep_some/config
func DiscoveryConfig(prefix, component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", prefix, component, objectID)
}

