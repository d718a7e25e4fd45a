/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import "errors"

var (
	// ErrUnsupportedScheme is returned by Resolve for URIs with an unknown scheme.
	ErrUnsupportedScheme = errors.New("unsupported connection URI scheme")

	// ErrInvalidAddress is returned by Resolve for malformed URIs.
	ErrInvalidAddress = errors.New("invalid connection address")

	ErrAlreadyListening = errors.New("server transport is already listening")
	ErrNotListening     = errors.New("server transport is not listening")
	ErrClosed           = errors.New("transport is closed")

	// ErrTransport wraps stream-level I/O failures.
	ErrTransport = errors.New("transport error")
)
