/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"net"

	"github.com/go-logr/logr"
)

// Transport is a resolved connection endpoint that can produce both halves of a connection.
type Transport interface {
	CreateServer(log logr.Logger) ServerTransport
	CreateClient(log logr.Logger) ClientTransport

	// String returns the canonical connection URI of the endpoint.
	String() string
}

// ServerTransport listens for and accepts incoming connections.
type ServerTransport interface {
	// Listen binds the endpoint. Calling Listen more than once fails with ErrAlreadyListening.
	Listen() error

	// Accept waits for the next connection. If the context is cancelled first,
	// Accept returns the context error and no connection is lost.
	Accept(ctx context.Context) (*DuplexPipe, error)

	// Addr returns the bound address, or nil if the transport is not listening.
	Addr() net.Addr

	// Close stops listening. Connections that were already accepted are not affected.
	Close() error
}

// ClientTransport connects to a listening ServerTransport.
type ClientTransport interface {
	Connect(ctx context.Context) (*DuplexPipe, error)
}
