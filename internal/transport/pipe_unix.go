/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"
)

const staleSocketCheckTimeout = 500 * time.Millisecond

// Local pipes are unix domain sockets in the temporary directory.
func localPipeAddress(name string) string {
	return filepath.Join(os.TempDir(), name)
}

func listenLocalPipe(address string) (net.Listener, error) {
	if removeErr := removeStaleSocket(address); removeErr != nil {
		return nil, removeErr
	}

	lc := net.ListenConfig{}
	return lc.Listen(context.Background(), "unix", address)
}

func dialLocalPipe(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "unix", address)
}

// A socket file left behind by a process that exited without cleaning up prevents binding.
// It is removed only if nobody accepts connections on it.
func removeStaleSocket(address string) error {
	info, statErr := os.Lstat(address)
	if errors.Is(statErr, fs.ErrNotExist) {
		return nil
	} else if statErr != nil {
		return fmt.Errorf("failed to check socket file '%s': %w", address, statErr)
	}

	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("'%s' exists and is not a socket", address)
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), staleSocketCheckTimeout)
	defer checkCancel()
	if conn, dialErr := dialLocalPipe(checkCtx, address); dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("another server is already listening on '%s'", address)
	}

	if removeErr := os.Remove(address); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket file '%s': %w", address, removeErr)
	}
	return nil
}
