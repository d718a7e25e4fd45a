/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscription connects an Observer to a Registry.
// Events are delivered only for sources the subscription enabled.
type Subscription struct {
	handle    uint32
	registry  *Registry
	observer  Observer
	cancelled atomic.Bool

	lock    *sync.Mutex
	enabled map[string]*Source
}

// Enable turns on event delivery from the named source for events that match the level and keywords.
// Enabling a source again replaces the previous level and keywords.
func (s *Subscription) Enable(name string, level Level, keywords Keywords, args []Argument) error {
	if s.cancelled.Load() {
		return ErrSubscriptionClosed
	}

	src, found := s.registry.Lookup(name)
	if !found {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	s.lock.Lock()
	s.enabled[name] = src
	s.lock.Unlock()

	src.setListener(s, eventFilter{level: level, keywords: keywords}, args)

	// Cancel() might have run concurrently and missed this source.
	if s.cancelled.Load() {
		src.removeListener(s)
		return ErrSubscriptionClosed
	}
	return nil
}

// Disable stops event delivery from the named source. Disabling a source that was not enabled is a no-op.
func (s *Subscription) Disable(name string) {
	s.lock.Lock()
	src, found := s.enabled[name]
	delete(s.enabled, name)
	s.lock.Unlock()

	if found {
		src.removeListener(s)
	}
}

// IsEnabled returns true if the subscription enabled the named source.
func (s *Subscription) IsEnabled(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, found := s.enabled[name]
	return found
}

// Cancel disables all sources and stops all notifications. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}

	s.registry.removeSubscription(s.handle)

	s.lock.Lock()
	sources := s.enabled
	s.enabled = map[string]*Source{}
	s.lock.Unlock()

	for _, src := range sources {
		src.removeListener(s)
	}
}

func (s *Subscription) notifySourceCreated(d Descriptor) {
	if !s.cancelled.Load() {
		s.observer.OnSourceCreated(d)
	}
}

func (s *Subscription) notifyEventWritten(e Event) {
	if !s.cancelled.Load() {
		s.observer.OnEventWritten(e)
	}
}
