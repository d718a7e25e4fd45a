/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import (
	"fmt"
	"sync"
	"time"
)

// Source is a named producer of events.
type Source struct {
	descriptor Descriptor

	lock      *sync.RWMutex
	listeners map[*Subscription]eventFilter
	onCommand []func(Command)
}

func newSource(d Descriptor, onCommand []func(Command)) *Source {
	return &Source{
		descriptor: d,
		lock:       &sync.RWMutex{},
		listeners:  map[*Subscription]eventFilter{},
		onCommand:  onCommand,
	}
}

func (s *Source) Descriptor() Descriptor {
	return s.descriptor
}

func (s *Source) Name() string {
	return s.descriptor.Name
}

// IsEnabled returns true if at least one subscriber wants events with the given level and keywords.
func (s *Source) IsEnabled(level Level, keywords Keywords) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, f := range s.listeners {
		if f.matches(level, keywords) {
			return true
		}
	}
	return false
}

// OnCommand registers a callback invoked whenever a subscriber enables or disables the source.
func (s *Source) OnCommand(handler func(Command)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onCommand = append(s.onCommand, handler)
}

// Write delivers an event to every subscriber that enabled the source with a matching level and keywords.
// It is cheap when nobody listens.
func (s *Source) Write(eventID int32, name string, level Level, keywords Keywords, fields ...Field) {
	s.lock.RLock()
	var targets []*Subscription
	for sub, f := range s.listeners {
		if f.matches(level, keywords) {
			targets = append(targets, sub)
		}
	}
	s.lock.RUnlock()

	if len(targets) == 0 {
		return
	}

	e := Event{
		Source:    s.descriptor.Name,
		EventID:   eventID,
		Name:      name,
		Level:     level,
		Keywords:  keywords,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
	for _, sub := range targets {
		sub.notifyEventWritten(e)
	}
}

// F makes an event field, formatting the value with the default format.
func F(name string, value any) Field {
	if s, isString := value.(string); isString {
		return Field{Name: name, Value: s}
	}
	return Field{Name: name, Value: fmt.Sprint(value)}
}

func (s *Source) setListener(sub *Subscription, f eventFilter, args []Argument) {
	s.lock.Lock()
	s.listeners[sub] = f
	handlers := s.onCommand
	s.lock.Unlock()

	cmd := Command{Enabled: true, Level: f.level, Keywords: f.keywords, Arguments: args}
	for _, h := range handlers {
		h(cmd)
	}
}

func (s *Source) removeListener(sub *Subscription) {
	s.lock.Lock()
	_, found := s.listeners[sub]
	delete(s.listeners, sub)
	handlers := s.onCommand
	s.lock.Unlock()

	if !found {
		return
	}
	for _, h := range handlers {
		h(Command{Enabled: false})
	}
}
