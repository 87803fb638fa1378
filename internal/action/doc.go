// Package action turns configured action entries into the immutable set of
// actions the bridge serves.
//
// Each entry gets a slug derived from its display name and a call topic
// under the instance namespace:
//
//	mqttbridge/<instance>/<slug>/call
//
// The registry is built once at startup and never mutated afterwards.
// Build validates every entry and either returns a complete registry or
// an error describing every problem found; it never returns a partial one.
//
// Example:
//
//	reg, err := action.Build([]action.Definition{
//	    {Name: "Sleep some", Command: "/usr/bin/sleep 10"},
//	}, "moin")
//	// reg.All()[0].Topic == "mqttbridge/moin/sleep_some/call"
package action
