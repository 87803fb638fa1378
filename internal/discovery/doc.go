// Package discovery builds Home Assistant MQTT discovery documents for
// configured actions.
//
// Every action is advertised as a button entity. The document is
// published retained on
//
//	<prefix>/button/<instance_slug>_<slug>/config
//
// and removed again by publishing an empty retained payload on the same
// topic. Documents are derived purely from the action and the instance
// identity, so announcing an unchanged action twice yields byte-identical
// payloads and re-announcing after a reconnect has no visible effect.
//
// The package also builds the availability messages ("online"/"offline")
// that the documents point at. Nothing here talks to the broker; callers
// publish the returned Message values.
package discovery
