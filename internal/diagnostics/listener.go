/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/aspnet/AspLabs-sub007/internal/eventsource"
	"github.com/aspnet/AspLabs-sub007/internal/protocol"
)

// EventRegistry is the source of instrumentation events.
// Subscribe must announce existing sources to the observer before returning.
type EventRegistry interface {
	Subscribe(o eventsource.Observer) *eventsource.Subscription
}

const initialQueueCapacity = 64

// Listener turns registry notifications into outbound protocol messages for a single connection,
// and applies the connection's EnableEvents requests to the registry.
type Listener struct {
	log     logr.Logger
	metrics *Metrics

	// Outbound messages, in the order the notifications arrived.
	// Producers are whatever goroutines create sources or write events; the session write loop consumes.
	queue          *chanx.UnboundedChan[protocol.Message]
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc

	// Guards the known sources, the pending requests and the apply queue.
	// Creation of a source and consumption of a pending request for it must be atomic.
	lock        *sync.Mutex
	descriptors map[string]eventsource.Descriptor
	pending     map[string]protocol.EnableRequest
	sub         *eventsource.Subscription
	closed      bool

	// Requests ready to be applied, in decision order. Applying runs source command handlers outside the lock.
	// Only one goroutine drains the queue at a time; calls made from within a handler only append to it.
	applyQueue []protocol.EnableRequest
	applying   bool
}

func newListener(registry EventRegistry, metrics *Metrics, log logr.Logger) *Listener {
	lifetimeCtx, lifetimeCancel := context.WithCancel(context.Background())
	l := &Listener{
		log:            log,
		metrics:        metrics,
		queue:          chanx.NewUnboundedChan[protocol.Message](lifetimeCtx, initialQueueCapacity),
		lifetimeCtx:    lifetimeCtx,
		lifetimeCancel: lifetimeCancel,
		lock:           &sync.Mutex{},
		descriptors:    map[string]eventsource.Descriptor{},
		pending:        map[string]protocol.EnableRequest{},
	}

	// Existing sources are replayed during Subscribe(). Requests cannot arrive before newListener() returns,
	// so nothing needs the subscription until then.
	sub := registry.Subscribe(l)

	l.lock.Lock()
	l.sub = sub
	l.lock.Unlock()

	return l
}

// OnSourceCreated is called by the registry for every existing and newly created source.
func (l *Listener) OnSourceCreated(d eventsource.Descriptor) {
	l.enqueue(&protocol.SourceCreated{
		Name:     d.Name,
		ID:       d.ID,
		Keywords: uint64(d.Keywords),
		Level:    uint8(d.Level),
	})

	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return
	}
	l.descriptors[d.Name] = d

	req, hasPending := l.pending[d.Name]
	if !hasPending || l.sub == nil {
		l.lock.Unlock()
		return
	}
	delete(l.pending, d.Name)
	l.log.V(1).Info("Source created, applying pending EnableEvents request", "Source", d.Name)
	mustDrain := l.scheduleApply(req)
	l.lock.Unlock()

	if mustDrain {
		l.drainApplyQueue()
	}
}

// OnEventWritten is called by the registry on the goroutine that wrote the event. It never blocks.
func (l *Listener) OnEventWritten(e eventsource.Event) {
	var fields []protocol.Field
	if len(e.Fields) > 0 {
		fields = make([]protocol.Field, len(e.Fields))
		for i, f := range e.Fields {
			fields[i] = protocol.Field{Name: f.Name, Value: f.Value}
		}
	}

	l.enqueue(&protocol.EventWritten{
		Source:    e.Source,
		EventID:   e.EventID,
		EventName: e.Name,
		Level:     uint8(e.Level),
		Keywords:  uint64(e.Keywords),
		Timestamp: e.Timestamp,
		Fields:    fields,
	})
}

// Enable activates the requested source, or remembers the request until the source is created.
// A newer request for a source that does not exist yet replaces the older one.
func (l *Listener) Enable(req protocol.EnableRequest) {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return
	}

	if _, known := l.descriptors[req.ProviderName]; known && l.sub != nil {
		mustDrain := l.scheduleApply(req)
		l.lock.Unlock()
		if mustDrain {
			l.drainApplyQueue()
		}
		return
	}
	defer l.lock.Unlock()

	if _, replaced := l.pending[req.ProviderName]; replaced {
		l.log.V(1).Info("Replacing pending EnableEvents request", "Source", req.ProviderName)
	} else {
		l.log.V(1).Info("Source does not exist yet, EnableEvents request is pending", "Source", req.ProviderName)
	}
	l.pending[req.ProviderName] = req
	l.metrics.enableRequest(enableOutcomePending)
}

// scheduleApply queues the request and reports whether the caller has to drain the queue.
// Must be called with the lock held.
func (l *Listener) scheduleApply(req protocol.EnableRequest) bool {
	l.applyQueue = append(l.applyQueue, req)
	if l.applying {
		return false
	}
	l.applying = true
	return true
}

// drainApplyQueue applies queued requests until the queue is empty. Must be called without the lock held.
func (l *Listener) drainApplyQueue() {
	for {
		l.lock.Lock()
		if len(l.applyQueue) == 0 || l.closed {
			l.applyQueue = nil
			l.applying = false
			l.lock.Unlock()
			return
		}
		req := l.applyQueue[0]
		l.applyQueue = l.applyQueue[1:]
		sub := l.sub
		l.lock.Unlock()

		l.apply(sub, req)
	}
}

func (l *Listener) apply(sub *eventsource.Subscription, req protocol.EnableRequest) {
	var args []eventsource.Argument
	if len(req.Arguments) > 0 {
		args = make([]eventsource.Argument, len(req.Arguments))
		for i, a := range req.Arguments {
			args[i] = eventsource.Argument{Key: a.Key, Value: a.Value}
		}
	}

	level, keywords := eventsource.Level(req.Level), eventsource.Keywords(req.Keywords)
	if enableErr := sub.Enable(req.ProviderName, level, keywords, args); enableErr != nil {
		l.log.Error(enableErr, "Could not enable event source", "Source", req.ProviderName)
		l.metrics.enableRequest(enableOutcomeFailed)
		return
	}

	l.log.V(1).Info("Event source enabled", "Source", req.ProviderName, "Level", level.String(), "Keywords", keywords.String())
	l.metrics.enableRequest(enableOutcomeApplied)
}

func (l *Listener) enqueue(msg protocol.Message) {
	// The queue goroutine stops when the listener is closed, so late notifications are dropped.
	select {
	case <-l.lifetimeCtx.Done():
	case l.queue.In <- msg:
	}
}

// Messages returns the outbound message queue. The channel is closed when the listener is closed.
func (l *Listener) Messages() <-chan protocol.Message {
	return l.queue.Out
}

// QueueLen returns the number of messages waiting to be sent.
func (l *Listener) QueueLen() int {
	return l.queue.Len()
}

// PendingCount returns the number of requests waiting for their source to be created.
func (l *Listener) PendingCount() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.pending)
}

// Close cancels the registry subscription and stops the outbound queue. Queued messages are discarded.
func (l *Listener) Close() {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return
	}
	l.closed = true
	sub := l.sub
	l.pending = map[string]protocol.EnableRequest{}
	l.applyQueue = nil
	l.lock.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	l.lifetimeCancel()
}

var _ eventsource.Observer = (*Listener)(nil)
