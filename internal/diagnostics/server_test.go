/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package diagnostics

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	prom_testutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aspnet/AspLabs-sub007/internal/eventsource"
	"github.com/aspnet/AspLabs-sub007/internal/protocol"
	"github.com/aspnet/AspLabs-sub007/internal/transport"
	"github.com/aspnet/AspLabs-sub007/pkg/testutil"
)

const pollInterval = 20 * time.Millisecond

func startServer(t *testing.T, ctx context.Context, reg EventRegistry, uri string) (*Server, *Metrics) {
	config := DefaultServerConfig()
	config.Metrics = newTestMetrics(t)

	server := NewServer(reg, config, testutil.NewLogForTesting(t.Name()))
	require.NoError(t, server.Start(ctx, uri))
	t.Cleanup(server.Stop)
	return server, config.Metrics
}

func connectClient(t *testing.T, ctx context.Context, uri string) *Client {
	client, connectErr := Connect(ctx, uri, DefaultClientConfig(), testutil.NewLogForTesting(t.Name()))
	require.NoError(t, connectErr)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func pipeURI(t *testing.T) string {
	return "pipe://" + testutil.UniquePipeName(t)
}

func waitForGauge(t *testing.T, ctx context.Context, value func() float64, expected float64) {
	pollErr := wait.PollUntilContextCancel(ctx, pollInterval, true, func(_ context.Context) (bool, error) {
		return value() == expected, nil
	})
	require.NoError(t, pollErr, "value did not reach %v (last value %v)", expected, value())
}

func TestServerAnnouncesSourcesAndStreamsEvents(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	src, _ := reg.NewSource("MyApp", eventsource.WithKeywords(0x3), eventsource.WithLevel(eventsource.Informational))
	uri := pipeURI(t)
	_, metrics := startServer(t, ctx, reg, uri)

	client := connectClient(t, ctx, uri)
	created := receiveMessage(t, ctx, client.Messages()).(*protocol.SourceCreated)
	require.Equal(t, &protocol.SourceCreated{
		Name:     "MyApp",
		ID:       eventsource.IDFromName("MyApp"),
		Keywords: 0x3,
		Level:    uint8(eventsource.Informational),
	}, created)

	require.NoError(t, client.EnableEvents(protocol.EnableRequest{
		ProviderName: "MyApp",
		Level:        uint8(eventsource.Verbose),
		Keywords:     0x1,
	}))

	// The source is known, so the request is applied right away.
	waitForGauge(t, ctx, func() float64 {
		return prom_testutil.ToFloat64(metrics.enableRequests.WithLabelValues(enableOutcomeApplied))
	}, 1)
	require.Equal(t, 0.0, prom_testutil.ToFloat64(metrics.enableRequests.WithLabelValues(enableOutcomePending)))
	require.True(t, src.IsEnabled(eventsource.Verbose, 0x1))

	src.Write(1, "Started", eventsource.Informational, 0x1, eventsource.F("Port", 8080))
	src.Write(2, "Filtered", eventsource.Informational, 0x2)
	src.Write(3, "Stopped", eventsource.Warning, 0x1)

	first := receiveMessage(t, ctx, client.Messages()).(*protocol.EventWritten)
	require.Equal(t, "Started", first.EventName)
	require.Equal(t, []protocol.Field{{Name: "Port", Value: "8080"}}, first.Fields)
	require.False(t, first.Timestamp.IsZero())

	second := receiveMessage(t, ctx, client.Messages()).(*protocol.EventWritten)
	require.Equal(t, int32(3), second.EventID)
	require.Equal(t, uint8(eventsource.Warning), second.Level)
}

func TestServerAppliesPendingRequestWhenSourceAppears(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	uri := pipeURI(t)
	_, metrics := startServer(t, ctx, reg, uri)
	client := connectClient(t, ctx, uri)

	require.NoError(t, client.EnableEvents(protocol.EnableRequest{ProviderName: "Late", Level: uint8(eventsource.Error)}))
	waitForGauge(t, ctx, func() float64 {
		return prom_testutil.ToFloat64(metrics.enableRequests.WithLabelValues(enableOutcomePending))
	}, 1)

	src, _ := reg.NewSource("Late")
	require.Equal(t, "Late", receiveMessage(t, ctx, client.Messages()).(*protocol.SourceCreated).Name)
	require.True(t, src.IsEnabled(eventsource.Error, eventsource.AllKeywords))
	require.False(t, src.IsEnabled(eventsource.Warning, eventsource.AllKeywords))

	src.Write(9, "Failure", eventsource.Critical, 0)
	require.Equal(t, "Failure", receiveMessage(t, ctx, client.Messages()).(*protocol.EventWritten).EventName)
}

func TestServerOverTCP(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	_, _ = reg.NewSource("Tcp")
	server, _ := startServer(t, ctx, reg, "tcp://127.0.0.1:0")

	addr := server.Addr()
	require.NotNil(t, addr)
	client := connectClient(t, ctx, "tcp://"+addr.String())
	require.Equal(t, "Tcp", receiveMessage(t, ctx, client.Messages()).(*protocol.SourceCreated).Name)
}

func TestServerProcessAddress(t *testing.T) {
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	_, _ = reg.NewSource("Process")
	startServer(t, ctx, reg, DefaultServerAddress)

	client := connectClient(t, ctx, "pipe://"+transport.ProcessPipeName(os.Getpid()))
	require.Equal(t, "Process", receiveMessage(t, ctx, client.Messages()).(*protocol.SourceCreated).Name)
}

func TestServerStartTwice(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	uri := pipeURI(t)
	server, _ := startServer(t, ctx, eventsource.NewRegistry(), uri)
	require.Equal(t, ServerStateListening, server.State())

	startErr := server.Start(ctx, uri)
	require.ErrorIs(t, startErr, ErrServerStarted)

	server.Stop()
	require.ErrorIs(t, server.Start(ctx, uri), ErrServerStarted)
}

func TestServerStartFailureLeavesServerCreated(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	server := NewServer(eventsource.NewRegistry(), DefaultServerConfig(), testutil.NewLogForTesting(t.Name()))
	defer server.Stop()

	require.ErrorIs(t, server.Start(ctx, "udp://127.0.0.1:1"), transport.ErrUnsupportedScheme)
	require.Equal(t, ServerStateCreated, server.State())
	require.Nil(t, server.Addr())

	// Another server already owns the pipe.
	uri := pipeURI(t)
	startServer(t, ctx, eventsource.NewRegistry(), uri)
	require.Error(t, server.Start(ctx, uri))
	require.Equal(t, ServerStateCreated, server.State())

	require.NoError(t, server.Start(ctx, pipeURI(t)))
	require.Equal(t, ServerStateListening, server.State())
}

func TestServerStopIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	server, _ := startServer(t, ctx, eventsource.NewRegistry(), pipeURI(t))
	server.Stop()
	server.Stop()

	require.Equal(t, ServerStateStopped, server.State())
	require.Nil(t, server.Addr())
	select {
	case <-server.Done():
	default:
		t.Fatal("Done() should be closed after Stop()")
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	t.Parallel()

	server := NewServer(eventsource.NewRegistry(), DefaultServerConfig(), testutil.NewLogForTesting(t.Name()))
	server.Stop()
	require.Equal(t, ServerStateStopped, server.State())
	<-server.Done()
}

func TestServerStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	serverCtx, serverCancel := context.WithCancel(ctx)
	server, _ := startServer(t, serverCtx, eventsource.NewRegistry(), pipeURI(t))
	serverCancel()

	select {
	case <-server.Done():
	case <-ctx.Done():
		t.Fatal("server did not stop")
	}
	require.Equal(t, ServerStateStopped, server.State())
}

func TestServerStopKeepsExistingSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	src, _ := reg.NewSource("Survivor")
	uri := pipeURI(t)
	server, _ := startServer(t, ctx, reg, uri)

	client := connectClient(t, ctx, uri)
	receiveMessage(t, ctx, client.Messages())
	require.NoError(t, client.EnableEvents(protocol.EnableRequest{ProviderName: "Survivor", Level: uint8(eventsource.LogAlways)}))
	require.NoError(t, wait.PollUntilContextCancel(ctx, pollInterval, true, func(_ context.Context) (bool, error) {
		return src.IsEnabled(eventsource.Verbose, 0), nil
	}))

	server.Stop()

	_, connectErr := Connect(ctx, uri, DefaultClientConfig(), testutil.NewLogForTesting(t.Name()))
	require.Error(t, connectErr)

	src.Write(1, "StillHere", eventsource.Informational, 0)
	require.Equal(t, "StillHere", receiveMessage(t, ctx, client.Messages()).(*protocol.EventWritten).EventName)

	require.NoError(t, client.Close())
	require.NoError(t, server.WaitSessions(ctx))
}

func TestServerIsolatesConnections(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	uri := pipeURI(t)
	_, metrics := startServer(t, ctx, reg, uri)

	good := connectClient(t, ctx, uri)

	tr, resolveErr := transport.Resolve(uri)
	require.NoError(t, resolveErr)
	bad, connectErr := tr.CreateClient(testutil.NewLogForTesting(t.Name())).Connect(ctx)
	require.NoError(t, connectErr)
	defer bad.Close()

	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.sessionsActive) }, 2)

	// Frame with an unknown message kind.
	_, writeErr := bad.Output.Write([]byte{0, 0, 0, 0, 0xff})
	require.NoError(t, writeErr)

	select {
	case <-bad.Done():
	case <-ctx.Done():
		t.Fatal("server did not drop the misbehaving connection")
	}
	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.protocolErrors) }, 1)
	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.sessionsActive) }, 1)

	_, _ = reg.NewSource("AfterBadPeer")
	require.Equal(t, "AfterBadPeer", receiveMessage(t, ctx, good.Messages()).(*protocol.SourceCreated).Name)
}

func TestServerSessionEndsWhenClientDisconnects(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	uri := pipeURI(t)
	_, metrics := startServer(t, ctx, reg, uri)

	const clients = 3
	for i := 0; i < clients; i++ {
		client := connectClient(t, ctx, uri)
		require.NoError(t, client.Close())
	}

	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.sessionsTotal) }, clients)
	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.sessionsActive) }, 0)
	waitForGauge(t, ctx, func() float64 { return float64(reg.SubscriptionCount()) }, 0)
}

func TestServerManyClients(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	reg := eventsource.NewRegistry()
	uri := pipeURI(t)
	startServer(t, ctx, reg, uri)

	const clients = 5
	connected := make([]*Client, clients)
	for i := range connected {
		connected[i] = connectClient(t, ctx, uri)
	}

	for i := 0; i < 3; i++ {
		_, _ = reg.NewSource(fmt.Sprintf("Source%d", i))
	}

	for _, client := range connected {
		for i := 0; i < 3; i++ {
			created := receiveMessage(t, ctx, client.Messages()).(*protocol.SourceCreated)
			require.Equal(t, fmt.Sprintf("Source%d", i), created.Name)
		}
	}
}

func TestServerWaitSessionsWaitsForStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	uri := pipeURI(t)
	server, metrics := startServer(t, ctx, eventsource.NewRegistry(), uri)

	// While the server is listening new sessions may start at any time.
	waitCtx, waitCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer waitCancel()
	require.ErrorIs(t, server.WaitSessions(waitCtx), context.DeadlineExceeded)

	client := connectClient(t, ctx, uri)
	waitForGauge(t, ctx, func() float64 { return prom_testutil.ToFloat64(metrics.sessionsActive) }, 1)

	waitResult := make(chan error, 1)
	go func() {
		waitResult <- server.WaitSessions(ctx)
	}()

	server.Stop()
	select {
	case <-waitResult:
		t.Fatal("WaitSessions returned while a session was still running")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, client.Close())
	select {
	case waitErr := <-waitResult:
		require.NoError(t, waitErr)
	case <-ctx.Done():
		t.Fatal("WaitSessions did not return after the last session ended")
	}
}
