package discovery

// PayloadPress is the payload Home Assistant sends when the button is pressed.
// The bridge triggers on any payload; this is what HA is told to send.
const PayloadPress = "PRESS"

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Device block constants.
const (
	deviceManufacturer = "mqtt-bridge"
	deviceModel        = "mqttbridge"
	identifierPrefix   = "mqttbridge_"
)

// Message is one outbound publish.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// DeviceInfo is the HA device registry block shared by all buttons of
// one instance, so HA groups them under a single device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// ButtonConfig is the JSON payload of an HA MQTT button discovery message.
// Field order is the serialization order and must stay fixed.
type ButtonConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	CommandTopic      string     `json:"command_topic"`
	PayloadPress      string     `json:"payload_press"`
	AvailabilityTopic string     `json:"availability_topic"`
	Icon              string     `json:"icon,omitempty"`
	Device            DeviceInfo `json:"device"`
}
