/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/aspnet/AspLabs-sub007/internal/protocol"
	"github.com/aspnet/AspLabs-sub007/internal/transport"
	"github.com/aspnet/AspLabs-sub007/pkg/resiliency"
)

// Client is the monitor side of a diagnostic connection.
type Client struct {
	pipe *transport.DuplexPipe
	log  logr.Logger

	messages       *chanx.UnboundedChan[protocol.Message]
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc
	readLoopDone   chan struct{}

	writeLock *sync.Mutex

	lock *sync.Mutex
	err  error
}

// Connect connects to the diagnostic server listening on the URI.
// If config.ConnectTimeout is not zero, failed attempts are retried until the timeout elapses.
func Connect(ctx context.Context, uri string, config ClientConfig, log logr.Logger) (*Client, error) {
	tr, resolveErr := transport.Resolve(uri)
	if resolveErr != nil {
		return nil, resolveErr
	}
	ct := tr.CreateClient(log)
	log = log.WithValues("Endpoint", tr.String())

	var pipe *transport.DuplexPipe
	var connectErr error
	if config.ConnectTimeout <= 0 {
		pipe, connectErr = ct.Connect(ctx)
	} else {
		connectCtx, connectCancel := context.WithTimeout(ctx, config.ConnectTimeout)
		defer connectCancel()
		pipe, connectErr = resiliency.RetryGet(connectCtx, config.connectBackoff(), func() (*transport.DuplexPipe, error) {
			p, attemptErr := ct.Connect(connectCtx)
			if attemptErr != nil {
				log.V(1).Info("Diagnostic server not reachable yet", "Error", attemptErr.Error())
			}
			return p, attemptErr
		})
	}
	if connectErr != nil {
		return nil, connectErr
	}

	c := newClient(pipe, log)
	log.V(1).Info("Connected to diagnostic server")
	return c, nil
}

func newClient(pipe *transport.DuplexPipe, log logr.Logger) *Client {
	lifetimeCtx, lifetimeCancel := context.WithCancel(context.Background())
	c := &Client{
		pipe:           pipe,
		log:            log,
		messages:       chanx.NewUnboundedChan[protocol.Message](lifetimeCtx, initialQueueCapacity),
		lifetimeCtx:    lifetimeCtx,
		lifetimeCancel: lifetimeCancel,
		readLoopDone:   make(chan struct{}),
		writeLock:      &sync.Mutex{},
		lock:           &sync.Mutex{},
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.readLoopDone)
	// The read loop is the only producer, so closing the input is safe. Queued messages are still delivered.
	defer close(c.messages.In)

	reader := protocol.NewReader(c.pipe.Input)
	for {
		msg, readErr := reader.ReadMessage()
		if readErr != nil {
			if !isBenignConnectionError(readErr) {
				c.setErr(readErr)
				c.log.V(1).Info("Diagnostic connection failed", "Error", readErr.Error())
			}
			return
		}

		select {
		case c.messages.In <- msg:
		case <-c.lifetimeCtx.Done():
			return
		}
	}
}

// EnableEvents asks the server to enable the event sources described by the requests.
// All requests are sent in a single frame.
func (c *Client) EnableEvents(reqs ...protocol.EnableRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	select {
	case <-c.readLoopDone:
		return ErrClientClosed
	default:
	}

	if writeErr := protocol.WriteMessage(c.pipe.Output, &protocol.EnableEvents{Requests: reqs}); writeErr != nil {
		if isBenignConnectionError(writeErr) {
			return fmt.Errorf("%w: %w", ErrClientClosed, writeErr)
		}
		return writeErr
	}
	return nil
}

// Messages returns the messages received from the server. The channel is closed when the connection ends.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages.Out
}

// Done returns a channel that is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.readLoopDone
}

// Err returns the error that ended the connection, or nil if it ended normally.
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return c.err
	}
	return c.pipe.Err()
}

// Close disconnects from the server. Messages that were not received yet are discarded.
func (c *Client) Close() error {
	closeErr := c.pipe.Close()
	c.lifetimeCancel()
	<-c.readLoopDone
	return closeErr
}

func (c *Client) setErr(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err == nil {
		c.err = err
	}
}
