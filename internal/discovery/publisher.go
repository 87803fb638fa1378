package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rytilahti/mqtt-bridge/internal/action"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/mqtt"
)

// Config holds the publisher settings.
type Config struct {
	// Prefix is the HA discovery prefix; defaults to "homeassistant".
	Prefix string

	// Instance is the instance name used in the topic namespace.
	Instance string

	// Version is reported as the device sw_version when set.
	Version string
}

// Publisher builds discovery and availability messages for one instance.
//
// It holds no mutable state and is safe for concurrent use.
type Publisher struct {
	prefix       string
	instanceSlug string
	topics       mqtt.Topics
	device       DeviceInfo
}

// New creates a Publisher.
func New(cfg Config) (*Publisher, error) {
	instance := strings.TrimSpace(cfg.Instance)
	if instance == "" {
		return nil, fmt.Errorf("%w: instance name is empty", ErrInvalidConfig)
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = mqtt.DefaultDiscoveryPrefix
	}
	if strings.ContainsAny(prefix, "+#") {
		return nil, fmt.Errorf("%w: discovery prefix %q contains wildcards", ErrInvalidConfig, prefix)
	}

	instanceSlug := action.Slugify(instance)
	if instanceSlug == action.EmptySlug {
		return nil, fmt.Errorf("%w: instance name %q yields no usable object id", ErrInvalidConfig, instance)
	}

	return &Publisher{
		prefix:       prefix,
		instanceSlug: instanceSlug,
		topics:       mqtt.Topics{Instance: instance},
		device: DeviceInfo{
			Identifiers:  []string{identifierPrefix + instanceSlug},
			Name:         "mqtt-bridge @ " + instance,
			Manufacturer: deviceManufacturer,
			Model:        deviceModel,
			SWVersion:    cfg.Version,
		},
	}, nil
}

// ObjectID returns the discovery object id, also used as unique_id.
func (p *Publisher) ObjectID(a action.Action) string {
	return p.instanceSlug + "_" + a.Slug
}

// DiscoveryTopic returns the retained config topic for an action.
//
// Example: homeassistant/button/moin_sleep_some/config
func (p *Publisher) DiscoveryTopic(a action.Action) string {
	return mqtt.DiscoveryConfig(p.prefix, mqtt.ComponentButton, p.ObjectID(a))
}

// AvailabilityTopic returns the instance availability topic.
func (p *Publisher) AvailabilityTopic() string {
	return p.topics.Availability()
}

// Document builds the button config for an action.
func (p *Publisher) Document(a action.Action) ButtonConfig {
	return ButtonConfig{
		Name:              a.Name,
		UniqueID:          p.ObjectID(a),
		CommandTopic:      a.Topic,
		PayloadPress:      PayloadPress,
		AvailabilityTopic: p.topics.Availability(),
		Icon:              a.Icon,
		Device:            p.device,
	}
}

// Announce builds the retained discovery message for an action.
func (p *Publisher) Announce(a action.Action) (Message, error) {
	if a.Slug == "" || a.Topic == "" {
		return Message{}, fmt.Errorf("%w: action %q has no slug or topic", ErrInvalidAction, a.Name)
	}

	payload, err := json.Marshal(p.Document(a))
	if err != nil {
		return Message{}, fmt.Errorf("encoding discovery document for %q: %w", a.Slug, err)
	}

	return Message{
		Topic:   p.DiscoveryTopic(a),
		Payload: payload,
		Retain:  true,
	}, nil
}

// Retract builds the empty retained message that removes an announced action.
func (p *Publisher) Retract(a action.Action) Message {
	return Message{
		Topic:   p.DiscoveryTopic(a),
		Payload: []byte{},
		Retain:  true,
	}
}

// Online builds the retained availability message published after connecting.
func (p *Publisher) Online() Message {
	return Message{Topic: p.topics.Availability(), Payload: []byte(PayloadOnline), Retain: true}
}

// Offline builds the retained availability message published on shutdown.
func (p *Publisher) Offline() Message {
	return Message{Topic: p.topics.Availability(), Payload: []byte(PayloadOffline), Retain: true}
}

// Will returns the Last Will the broker publishes if the bridge vanishes.
func (p *Publisher) Will(qos byte) mqtt.Will {
	return mqtt.Will{
		Topic:    p.topics.Availability(),
		Payload:  []byte(PayloadOffline),
		QoS:      qos,
		Retained: true,
	}
}
