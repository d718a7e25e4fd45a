/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry keeps track of event sources and the subscribers interested in them.
//
// Notifications are always delivered outside of registry locks. A new subscriber observes
// every source exactly once: sources that exist when it subscribes are replayed to it,
// sources created later are announced as they appear.
type Registry struct {
	lock          *sync.Mutex
	sources       map[string]*Source
	sourceOrder   []*Source
	subscriptions map[uint32]*Subscription
}

var nextSubscriptionHandle = &atomic.Uint32{}

func NewRegistry() *Registry {
	return &Registry{
		lock:          &sync.Mutex{},
		sources:       map[string]*Source{},
		subscriptions: map[uint32]*Subscription{},
	}
}

var defaultRegistry = sync.OnceValue(NewRegistry)

// DefaultRegistry returns the process-wide registry. Libraries and host programs register their
// sources here; components that consume events should receive a registry explicitly instead.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

type sourceConfig struct {
	descriptor Descriptor
	onCommand  []func(Command)
}

type SourceOption func(*sourceConfig)

// WithID overrides the name-derived source identifier.
func WithID(id uuid.UUID) SourceOption {
	return func(c *sourceConfig) { c.descriptor.ID = id }
}

func WithKeywords(k Keywords) SourceOption {
	return func(c *sourceConfig) { c.descriptor.Keywords = k }
}

func WithLevel(l Level) SourceOption {
	return func(c *sourceConfig) { c.descriptor.Level = l }
}

// WithCommandHandler registers a callback for enable and disable commands before the source becomes visible.
func WithCommandHandler(handler func(Command)) SourceOption {
	return func(c *sourceConfig) { c.onCommand = append(c.onCommand, handler) }
}

// NewSource registers a new source. Names are case-sensitive and must be unique within the registry.
func (r *Registry) NewSource(name string, opts ...SourceOption) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("event source name must not be empty")
	}

	cfg := sourceConfig{
		descriptor: Descriptor{
			Name:  name,
			ID:    IDFromName(name),
			Level: Verbose,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := cfg.descriptor
	src := newSource(d, cfg.onCommand)

	r.lock.Lock()
	if _, exists := r.sources[name]; exists {
		r.lock.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, name)
	}
	r.sources[name] = src
	r.sourceOrder = append(r.sourceOrder, src)
	subs := r.subscriptionSnapshot()
	r.lock.Unlock()

	for _, sub := range subs {
		sub.notifySourceCreated(d)
	}
	return src, nil
}

// Lookup returns the source with the given name, if it exists.
func (r *Registry) Lookup(name string) (*Source, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	src, found := r.sources[name]
	return src, found
}

// Sources returns the descriptors of all sources, in the order the sources were created.
func (r *Registry) Sources() []Descriptor {
	r.lock.Lock()
	defer r.lock.Unlock()

	retval := make([]Descriptor, 0, len(r.sourceOrder))
	for _, src := range r.sourceOrder {
		retval = append(retval, src.descriptor)
	}
	return retval
}

// Subscribe registers the observer for registry notifications. Before Subscribe returns,
// the observer receives OnSourceCreated for every source that already exists.
func (r *Registry) Subscribe(o Observer) *Subscription {
	sub := &Subscription{
		handle:   nextSubscriptionHandle.Add(1),
		registry: r,
		observer: o,
		lock:     &sync.Mutex{},
		enabled:  map[string]*Source{},
	}

	r.lock.Lock()
	r.subscriptions[sub.handle] = sub
	existing := make([]Descriptor, 0, len(r.sourceOrder))
	for _, src := range r.sourceOrder {
		existing = append(existing, src.descriptor)
	}
	r.lock.Unlock()

	for _, d := range existing {
		sub.notifySourceCreated(d)
	}
	return sub
}

// SubscriptionCount returns the number of active subscriptions.
func (r *Registry) SubscriptionCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.subscriptions)
}

func (r *Registry) removeSubscription(handle uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.subscriptions, handle)
}

// Must be called with the registry lock held.
func (r *Registry) subscriptionSnapshot() []*Subscription {
	subs := make([]*Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}
