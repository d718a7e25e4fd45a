/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	SchemeProcess = "process"
	SchemePipe    = "pipe"
	SchemeTCP     = "tcp"

	// Prefix of the local pipe name used by process:// endpoints.
	ProcessPipePrefix = "diagnostics-"
)

// ProcessPipeName returns the name of the local pipe a process with the given ID listens on.
func ProcessPipeName(pid int) string {
	return fmt.Sprintf("%s%d", ProcessPipePrefix, pid)
}

// Resolve parses a connection URI:
//
//	process://        local pipe of the current process
//	process://<pid>   local pipe of the process with the given ID
//	pipe://<name>     local named pipe (unix domain socket outside of Windows)
//	tcp://<host>:<port>
func Resolve(uri string) (Transport, error) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(uri), "://")
	if !found || scheme == "" {
		return nil, fmt.Errorf("%w: '%s' is not a connection URI (expected <scheme>://<address>)", ErrInvalidAddress, uri)
	}
	rest = strings.TrimSuffix(rest, "/")

	switch strings.ToLower(scheme) {
	case SchemeProcess:
		pid := os.Getpid()
		if rest != "" {
			parsed, parseErr := strconv.Atoi(rest)
			if parseErr != nil || parsed <= 0 {
				return nil, fmt.Errorf("%w: '%s' is not a valid process ID", ErrInvalidAddress, rest)
			}
			pid = parsed
		}
		return newLocalPipeTransport(ProcessPipeName(pid)), nil

	case SchemePipe:
		if rest == "" || strings.ContainsAny(rest, `/\`) {
			return nil, fmt.Errorf("%w: '%s' is not a valid pipe name", ErrInvalidAddress, rest)
		}
		return newLocalPipeTransport(rest), nil

	case SchemeTCP:
		host, portStr, splitErr := net.SplitHostPort(rest)
		if splitErr != nil {
			return nil, fmt.Errorf("%w: '%s' is not a valid TCP address: %w", ErrInvalidAddress, rest, splitErr)
		}
		port, parseErr := strconv.ParseUint(portStr, 10, 16)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: '%s' is not a valid TCP port", ErrInvalidAddress, portStr)
		}
		return newTCPTransport(host, uint16(port)), nil

	default:
		return nil, fmt.Errorf("%w: '%s' (supported schemes are %s, %s and %s)", ErrUnsupportedScheme, scheme, SchemeProcess, SchemePipe, SchemeTCP)
	}
}
