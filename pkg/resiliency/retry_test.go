/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func fastBackoff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Millisecond),
		backoff.WithMaxInterval(5*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)
}

func TestRetryGetSucceedsEventually(t *testing.T) {
	t.Parallel()

	attempts := 0
	val, err := RetryGet(context.Background(), fastBackoff(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "ready", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ready", val)
	require.Equal(t, 3, attempts)
}

func TestRetryGetStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	attempts := 0
	err := Retry(context.Background(), fastBackoff(), func() error {
		attempts++
		return Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts)
}

func TestRetryGetReportsLastErrorOnTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	failure := errors.New("still failing")
	_, err := RetryGet(ctx, fastBackoff(), func() (int, error) {
		return 0, failure
	})

	require.ErrorIs(t, err, failure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallWithPanicRecovery(t *testing.T) {
	t.Parallel()

	err := CallWithPanicRecovery(func() error {
		panic("session went sideways")
	}, logr.Discard())
	require.Error(t, err)
	require.Contains(t, err.Error(), "session went sideways")

	var permanent *backoff.PermanentError
	require.True(t, errors.As(err, &permanent))

	plain := errors.New("plain")
	require.ErrorIs(t, CallWithPanicRecovery(func() error { return plain }, logr.Discard()), plain)
}
