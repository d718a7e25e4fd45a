/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/aspnet/AspLabs-sub007/internal/transport"
	"github.com/aspnet/AspLabs-sub007/pkg/concurrency"
	"github.com/aspnet/AspLabs-sub007/pkg/resiliency"
)

type ServerState uint32

const (
	ServerStateCreated ServerState = iota
	ServerStateListening
	ServerStateStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStateCreated:
		return "Created"
	case ServerStateListening:
		return "Listening"
	case ServerStateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("ServerState(%d)", uint32(s))
	}
}

// Server accepts monitor connections and serves each of them with a separate Session.
type Server struct {
	registry EventRegistry
	config   ServerConfig
	log      logr.Logger

	lock            *sync.Mutex
	state           ServerState
	serverTransport transport.ServerTransport
	lifetimeCtx     context.Context
	lifetimeCancel  context.CancelFunc
	sessionCtx      context.Context

	acceptLoopDone chan struct{}
	stopJob        *concurrency.OneTimeJob[struct{}]
	sessions       *sync.WaitGroup
	nextSessionID  *atomic.Uint64
}

func NewServer(registry EventRegistry, config ServerConfig, log logr.Logger) *Server {
	return &Server{
		registry:       registry,
		config:         config,
		log:            log,
		lock:           &sync.Mutex{},
		state:          ServerStateCreated,
		acceptLoopDone: make(chan struct{}),
		stopJob:        concurrency.NewOneTimeJob[struct{}](),
		sessions:       &sync.WaitGroup{},
		nextSessionID:  &atomic.Uint64{},
	}
}

// Start binds the endpoint described by the connection URI and starts accepting connections.
// Binding errors are returned synchronously and leave the server in the Created state, so Start can be retried.
// Cancelling the context has the same effect as calling Stop().
func (s *Server) Start(ctx context.Context, uri string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != ServerStateCreated {
		return fmt.Errorf("%w (current state is %s)", ErrServerStarted, s.state)
	}

	tr, resolveErr := transport.Resolve(uri)
	if resolveErr != nil {
		return resolveErr
	}

	st := tr.CreateServer(s.log)
	if listenErr := st.Listen(); listenErr != nil {
		return listenErr
	}

	s.serverTransport = st
	s.lifetimeCtx, s.lifetimeCancel = context.WithCancel(ctx)
	// Sessions keep running after Stop(), they end when their monitor disconnects.
	s.sessionCtx = context.WithoutCancel(ctx)
	s.state = ServerStateListening
	s.log = s.log.WithValues("Endpoint", tr.String())

	go s.acceptLoop(s.lifetimeCtx, st)

	s.log.Info("Diagnostic server started", "Address", addrString(st.Addr()))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, st transport.ServerTransport) {
	defer close(s.acceptLoopDone)
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			s.log.Error(closeErr, "Failed to close the listening transport")
		}
		s.lock.Lock()
		s.state = ServerStateStopped
		s.lock.Unlock()
		s.log.Info("Diagnostic server stopped")
	}()

	b := s.config.acceptBackoff()

	for {
		pipe, acceptErr := st.Accept(ctx)
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, transport.ErrClosed) {
				return
			}

			s.config.Metrics.acceptError()
			delay := b.NextBackOff()
			s.log.Error(acceptErr, "Failed to accept a monitor connection", "RetryIn", delay.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		b.Reset()
		s.startSession(pipe)
	}
}

func (s *Server) startSession(pipe *transport.DuplexPipe) {
	id := s.nextSessionID.Add(1)
	session := NewSession(id, pipe, s.registry, s.config.Metrics, s.log)

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer func() {
			if panicErr := resiliency.MakePanicError(recover(), s.log); panicErr != nil {
				_ = pipe.Close()
			}
		}()

		if sessionErr := session.Run(s.sessionCtx); sessionErr != nil {
			s.log.Error(sessionErr, "Monitor connection failed", "Session", id)
		}
	}()
}

// Stop stops accepting connections and closes the listening transport.
// Sessions that are in progress are not affected. Stop is idempotent and waits for the accept loop to exit.
func (s *Server) Stop() {
	s.stopJob.Do(func() struct{} {
		s.lock.Lock()
		state, cancel := s.state, s.lifetimeCancel
		if state == ServerStateCreated {
			s.state = ServerStateStopped
			close(s.acceptLoopDone)
		}
		s.lock.Unlock()

		if cancel != nil {
			cancel()
		}
		return struct{}{}
	})

	<-s.acceptLoopDone
}

// Done returns a channel that is closed when the server stopped accepting connections.
func (s *Server) Done() <-chan struct{} {
	return s.acceptLoopDone
}

func (s *Server) State() ServerState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Addr returns the bound address (useful with tcp://host:0), or nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	st, state := s.serverTransport, s.state
	s.lock.Unlock()

	if st == nil || state != ServerStateListening {
		return nil
	}
	return st.Addr()
}

// WaitSessions waits until the server has stopped accepting connections and all sessions have ended,
// or the context is done. It does not stop the server; call Stop() or cancel the Start() context for that.
func (s *Server) WaitSessions(ctx context.Context) error {
	// New sessions are only added by the accept loop.
	select {
	case <-s.acceptLoopDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	allDone := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
