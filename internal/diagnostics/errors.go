/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"context"
	"errors"
	"io"

	"github.com/aspnet/AspLabs-sub007/internal/transport"
)

var (
	// ErrServerStarted is returned when Start() is called on a server that was already started.
	ErrServerStarted = errors.New("diagnostic server has already been started")

	ErrClientClosed = errors.New("diagnostic client is closed")
)

// isBenignConnectionError returns true for errors that signal an orderly end of a connection.
func isBenignConnectionError(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, transport.ErrPipeClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
