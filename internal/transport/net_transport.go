/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
)

// netTransport covers every endpoint kind that can be expressed with net.Listener and net.Conn.
// Endpoint kinds differ only in how they listen and dial.
type netTransport struct {
	uri     string
	address string
	listen  func(address string) (net.Listener, error)
	dial    func(ctx context.Context, address string) (net.Conn, error)
}

func newTCPTransport(host string, port uint16) *netTransport {
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	return &netTransport{
		uri:     SchemeTCP + "://" + address,
		address: address,
		listen: func(address string) (net.Listener, error) {
			lc := net.ListenConfig{}
			return lc.Listen(context.Background(), "tcp", address)
		},
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", address)
		},
	}
}

func newLocalPipeTransport(name string) *netTransport {
	return &netTransport{
		uri:     SchemePipe + "://" + name,
		address: localPipeAddress(name),
		listen:  listenLocalPipe,
		dial:    dialLocalPipe,
	}
}

func (t *netTransport) String() string {
	return t.uri
}

func (t *netTransport) CreateServer(log logr.Logger) ServerTransport {
	return &netServer{
		transport: t,
		log:       log.WithValues("Endpoint", t.uri),
		lock:      &sync.Mutex{},
	}
}

func (t *netTransport) CreateClient(log logr.Logger) ClientTransport {
	return &netClient{
		transport: t,
		log:       log.WithValues("Endpoint", t.uri),
	}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

type netServer struct {
	transport *netTransport
	log       logr.Logger

	lock     *sync.Mutex
	listener net.Listener
	closed   bool

	// Set by Listen()
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc
	accepted       chan acceptResult
	workerDone     chan struct{}
}

func (s *netServer) Listen() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyListening, s.transport.uri)
	}

	listener, listenErr := s.transport.listen(s.transport.address)
	if listenErr != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.transport.uri, listenErr)
	}

	s.listener = listener
	s.lifetimeCtx, s.lifetimeCancel = context.WithCancel(context.Background())
	s.accepted = make(chan acceptResult)
	s.workerDone = make(chan struct{})
	go s.acceptWorker(listener)

	s.log.V(1).Info("Listening for connections", "Address", listener.Addr().String())
	return nil
}

// acceptWorker owns the listener's Accept() calls. Results are handed over one at a time,
// so a connection accepted while nobody waits in Accept() stays with the worker until somebody does.
func (s *netServer) acceptWorker(listener net.Listener) {
	defer close(s.workerDone)

	for {
		// Accept will block until a connection is received or the listener is closed via Close()
		conn, acceptErr := listener.Accept()
		if errors.Is(acceptErr, net.ErrClosed) {
			return
		}

		select {
		case s.accepted <- acceptResult{conn: conn, err: acceptErr}:
		case <-s.lifetimeCtx.Done():
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
	}
}

func (s *netServer) Accept(ctx context.Context) (*DuplexPipe, error) {
	s.lock.Lock()
	accepted, lifetimeCtx := s.accepted, s.lifetimeCtx
	closed := s.closed
	s.lock.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if accepted == nil {
		return nil, ErrNotListening
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-lifetimeCtx.Done():
		return nil, ErrClosed
	case res := <-accepted:
		if res.err != nil {
			return nil, fmt.Errorf("%w: failed to accept connection on %s: %w", ErrTransport, s.transport.uri, res.err)
		}
		s.log.V(1).Info("Accepted connection", "Remote", remoteAddrString(res.conn))
		// The connection outlives the Accept() call, only context values are kept.
		return NewStreamBridge(context.WithoutCancel(ctx), res.conn, s.log), nil
	}
}

func (s *netServer) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil || s.closed {
		return nil
	}
	return s.listener.Addr()
}

func (s *netServer) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	listener, workerDone := s.listener, s.workerDone
	if s.lifetimeCancel != nil {
		s.lifetimeCancel()
	}
	s.lock.Unlock()

	if listener == nil {
		return nil
	}

	// This Close call will stop the Accept call in the worker, which will then exit.
	closeErr := listener.Close()
	<-workerDone
	s.log.V(1).Info("Stopped listening")

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close listener for %s: %w", s.transport.uri, closeErr)
	}
	return nil
}

type netClient struct {
	transport *netTransport
	log       logr.Logger
}

func (c *netClient) Connect(ctx context.Context) (*DuplexPipe, error) {
	conn, dialErr := c.transport.dial(ctx, c.transport.address)
	if dialErr != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrTransport, c.transport.uri, dialErr)
	}

	c.log.V(1).Info("Connected", "Local", localAddrString(conn))
	return NewStreamBridge(context.WithoutCancel(ctx), conn, c.log), nil
}

func remoteAddrString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func localAddrString(conn net.Conn) string {
	if addr := conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

var (
	_ Transport       = (*netTransport)(nil)
	_ ServerTransport = (*netServer)(nil)
	_ ClientTransport = (*netClient)(nil)
)
