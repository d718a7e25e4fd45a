/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build windows

package transport

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

func localPipeAddress(name string) string {
	return pipePrefix + name
}

func listenLocalPipe(address string) (net.Listener, error) {
	return winio.ListenPipe(address, &winio.PipeConfig{
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
}

func dialLocalPipe(ctx context.Context, address string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, address)
}
