/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultServerAddress = "process://"

	// Environment variable that overrides DefaultServerAddress for host programs.
	DIAGNOSTICS_SERVER_ADDRESS = "DIAGNOSTICS_SERVER_ADDRESS"

	// Environment variable with the default connect timeout for monitors (a Go duration string).
	DIAGNOSTICS_CONNECT_TIMEOUT = "DIAGNOSTICS_CONNECT_TIMEOUT"
)

type ServerConfig struct {
	// Delays between retries after the listening transport fails to accept a connection.
	AcceptRetryInitialInterval time.Duration
	AcceptRetryMaxInterval     time.Duration

	// Optional. Metrics are not collected if nil.
	Metrics *Metrics
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AcceptRetryInitialInterval: 50 * time.Millisecond,
		AcceptRetryMaxInterval:     5 * time.Second,
	}
}

func (c ServerConfig) acceptBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.AcceptRetryInitialInterval),
		backoff.WithMaxInterval(c.AcceptRetryMaxInterval),
		backoff.WithMaxElapsedTime(0), // The accept loop never gives up
	)
}

type ClientConfig struct {
	// How long Connect() keeps retrying while the server is not reachable.
	// Zero means a single connection attempt.
	ConnectTimeout time.Duration

	ConnectRetryInitialInterval time.Duration
	ConnectRetryMaxInterval     time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectRetryInitialInterval: 100 * time.Millisecond,
		ConnectRetryMaxInterval:     2 * time.Second,
	}
}

func (c ClientConfig) connectBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.ConnectRetryInitialInterval),
		backoff.WithMaxInterval(c.ConnectRetryMaxInterval),
		backoff.WithMaxElapsedTime(c.ConnectTimeout),
	)
}
