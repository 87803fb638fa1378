package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/mqtt"
)

// Definition is one configured action before validation.
type Definition struct {
	Name    string
	Icon    string
	Command string
}

// Action is a validated action bound to its slug and call topic.
type Action struct {
	Name    string
	Icon    string
	Command string
	Slug    string
	Topic   string
}

// Registry is the ordered, immutable set of actions for one instance.
//
// It is read-only after Build, so all methods are safe for concurrent use.
type Registry struct {
	instance string
	actions  []Action
	byTopic  map[string]int
}

// Build validates defs and binds each one to a slug and call topic.
//
// Order is preserved from defs. Every invalid entry is reported; the
// returned error joins one *ConfigError per problem and no registry is
// returned in that case.
func Build(defs []Definition, instance string) (*Registry, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, ErrInvalidInstance
	}

	topics := mqtt.Topics{Instance: instance}
	reg := &Registry{
		instance: instance,
		actions:  make([]Action, 0, len(defs)),
		byTopic:  make(map[string]int, len(defs)),
	}
	firstBySlug := make(map[string]int, len(defs))

	var errs []error
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		command := strings.TrimSpace(def.Command)

		if name == "" {
			errs = append(errs, &ConfigError{Index: i, Name: def.Name, Err: ErrEmptyName})
		}
		if err := validateCommand(command); err != nil {
			errs = append(errs, &ConfigError{Index: i, Name: def.Name, Err: err})
		}
		if name == "" {
			continue
		}

		slug := Slugify(name)
		if slug == EmptySlug {
			errs = append(errs, &ConfigError{Index: i, Name: def.Name, Slug: slug, Err: ErrInvalidName})
			continue
		}
		if first, dup := firstBySlug[slug]; dup {
			errs = append(errs, &ConfigError{
				Index: i,
				Name:  def.Name,
				Slug:  slug,
				Err:   fmt.Errorf("%w: also used by actions[%d] %q", ErrDuplicateSlug, first, defs[first].Name),
			})
			continue
		}
		firstBySlug[slug] = i

		a := Action{
			Name:    name,
			Icon:    strings.TrimSpace(def.Icon),
			Command: command,
			Slug:    slug,
			Topic:   topics.ActionCall(slug),
		}
		reg.byTopic[a.Topic] = len(reg.actions)
		reg.actions = append(reg.actions, a)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// validateCommand checks that command tokenizes into at least one word.
func validateCommand(command string) error {
	if command == "" {
		return ErrEmptyCommand
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if len(argv) == 0 {
		return ErrEmptyCommand
	}
	return nil
}

// Instance returns the instance name the topics were built for.
func (r *Registry) Instance() string {
	return r.instance
}

// All returns the actions in configuration order.
// The returned slice is a copy; callers can safely modify it.
func (r *Registry) All() []Action {
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Lookup returns the action owning a call topic.
func (r *Registry) Lookup(topic string) (Action, bool) {
	i, ok := r.byTopic[topic]
	if !ok {
		return Action{}, false
	}
	return r.actions[i], true
}

// Len returns the number of actions.
func (r *Registry) Len() int {
	return len(r.actions)
}
