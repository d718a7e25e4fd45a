/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aspnet/AspLabs-sub007/internal/protocol"
	"github.com/aspnet/AspLabs-sub007/internal/transport"
	"github.com/aspnet/AspLabs-sub007/pkg/resiliency"
	"github.com/aspnet/AspLabs-sub007/pkg/telemetry"
)

const sessionWriteBufferSize = 16 * 1024

var tracer = telemetry.GetTracer("diagnostics")

// Session serves a single monitor connection.
type Session struct {
	id       uint64
	pipe     *transport.DuplexPipe
	registry EventRegistry
	metrics  *Metrics
	log      logr.Logger
}

func NewSession(id uint64, pipe *transport.DuplexPipe, registry EventRegistry, metrics *Metrics, log logr.Logger) *Session {
	return &Session{
		id:       id,
		pipe:     pipe,
		registry: registry,
		metrics:  metrics,
		log:      log.WithValues("Session", id),
	}
}

// Run serves the connection until the monitor disconnects, the connection fails, or the context is cancelled.
// The pipe is closed when Run returns. The returned error is nil for an orderly disconnect.
func (s *Session) Run(ctx context.Context) error {
	return telemetry.CallWithTelemetryNoResult(tracer, "diagnostics.session", ctx, func(spanCtx context.Context) error {
		telemetry.SetAttribute(spanCtx, "diagnostics.session.id", int64(s.id))
		return s.run(spanCtx)
	})
}

func (s *Session) run(ctx context.Context) error {
	started := time.Now()
	s.metrics.sessionStarted()
	defer func() { s.metrics.sessionEnded(time.Since(started)) }()
	s.log.V(1).Info("Session started")

	listener := newListener(s.registry, s.metrics, s.log)
	defer listener.Close()

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	defer sessionCancel()

	// Closing the pipe unblocks both loops: reads from Input and writes to Output fail.
	stopPipe := context.AfterFunc(sessionCtx, func() {
		_ = s.pipe.Close()
	})
	defer stopPipe()

	// Whichever loop finishes first cancels the other one.
	var g errgroup.Group
	g.Go(func() error {
		defer sessionCancel()
		return resiliency.CallWithPanicRecovery(func() error {
			return s.writeLoop(sessionCtx, listener)
		}, s.log)
	})
	g.Go(func() error {
		defer sessionCancel()
		return resiliency.CallWithPanicRecovery(func() error {
			return s.readLoop(sessionCtx, listener)
		}, s.log)
	})

	loopErr := g.Wait()
	_ = s.pipe.Close()

	if loopErr == nil {
		loopErr = s.pipe.Err()
	}
	if isBenignConnectionError(loopErr) {
		s.log.V(1).Info("Session ended")
		return nil
	}

	s.log.V(1).Info("Session ended with an error", "Error", loopErr.Error())
	return loopErr
}

// writeLoop sends queued messages in order. The writer is flushed whenever the queue runs empty,
// so a burst of messages goes out in as few writes as possible.
func (s *Session) writeLoop(ctx context.Context, listener *Listener) error {
	w := bufio.NewWriterSize(s.pipe.Output, sessionWriteBufferSize)
	messages := listener.Messages()

	for {
		if ctx.Err() != nil {
			return nil
		}

		var msg protocol.Message
		var ok bool
		select {
		case msg, ok = <-messages:
		default:
			if flushErr := s.flush(ctx, w); flushErr != nil {
				return flushErr
			}
			select {
			case <-ctx.Done():
				return nil
			case msg, ok = <-messages:
			}
		}

		if !ok {
			return s.flush(ctx, w)
		}
		if writeErr := s.writeMessage(ctx, w, msg); writeErr != nil {
			return writeErr
		}
	}
}

func (s *Session) writeMessage(ctx context.Context, w *bufio.Writer, msg protocol.Message) error {
	if writeErr := protocol.WriteMessage(w, msg); writeErr != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", transport.ErrTransport, writeErr)
	}
	s.metrics.messageSent(msg.Kind())
	return nil
}

func (s *Session) flush(ctx context.Context, w *bufio.Writer) error {
	if flushErr := w.Flush(); flushErr != nil {
		if ctx.Err() != nil || isBenignConnectionError(flushErr) {
			return nil
		}
		return fmt.Errorf("%w: failed to flush outbound messages: %w", transport.ErrTransport, flushErr)
	}
	return nil
}

// readLoop decodes inbound frames and forwards EnableEvents requests to the listener.
func (s *Session) readLoop(ctx context.Context, listener *Listener) error {
	reader := protocol.NewReader(s.pipe.Input)

	for {
		msg, readErr := reader.ReadMessage()
		if readErr != nil {
			switch {
			case ctx.Err() != nil, isBenignConnectionError(readErr):
				return nil
			case errors.Is(readErr, protocol.ErrProtocol):
				s.metrics.protocolError()
				s.log.Error(readErr, "Monitor sent a malformed frame, closing the connection")
				return readErr
			default:
				return readErr
			}
		}

		switch m := msg.(type) {
		case *protocol.EnableEvents:
			telemetry.AddEvent(ctx, "diagnostics.enable_events", trace.WithAttributes(attribute.Int("diagnostics.enable_events.requests", len(m.Requests))))
			for _, req := range m.Requests {
				listener.Enable(req)
			}
		default:
			s.log.V(1).Info("Ignoring unexpected message from monitor", "Kind", msg.Kind().String())
		}
	}
}
