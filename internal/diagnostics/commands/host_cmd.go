/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aspnet/AspLabs-sub007/internal/diagnostics"
	"github.com/aspnet/AspLabs-sub007/internal/eventsource"
	"github.com/aspnet/AspLabs-sub007/pkg/osutil"
)

const (
	HeartbeatSourceName = "Diagnostics-Heartbeat"

	heartbeatEventID       = 1
	heartbeatKeyword       = eventsource.Keywords(0x1)
	defaultHeartbeatPeriod = time.Second
	sessionDrainTimeout    = 5 * time.Second
)

type hostFlags struct {
	address           string
	metricsAddress    string
	heartbeatInterval time.Duration
}

func NewHostCommand(log logr.Logger) *cobra.Command {
	flags := &hostFlags{}

	hostCmd := &cobra.Command{
		Use:   "host [--address uri] [--metrics-address host:port] [--heartbeat-interval duration]",
		Short: "Runs a diagnostic server with a heartbeat event source",
		Long: `Runs a diagnostic server with a heartbeat event source.

		The server listens on the connection URI given by --address (process://, pipe://<name> or tcp://<host>:<port>).
		If the flag is not set, the DIAGNOSTICS_SERVER_ADDRESS environment variable is used, and then process://.
		The heartbeat source writes an event every heartbeat interval while a monitor has it enabled.`,
		RunE: runHost(log, flags),
		Args: cobra.NoArgs,
	}

	hostCmd.Flags().StringVar(&flags.address, "address", osutil.EnvVarStringWithDefault(diagnostics.DIAGNOSTICS_SERVER_ADDRESS, diagnostics.DefaultServerAddress), "The connection URI the diagnostic server listens on.")
	hostCmd.Flags().StringVar(&flags.metricsAddress, "metrics-address", "", "If set, Prometheus metrics are served on this address (host:port) at the /metrics path.")
	hostCmd.Flags().DurationVar(&flags.heartbeatInterval, "heartbeat-interval", defaultHeartbeatPeriod, "Time between heartbeat events.")

	return hostCmd
}

func runHost(log logr.Logger, flags *hostFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		log = log.WithName("host")
		ctx := cmd.Context()

		if flags.heartbeatInterval <= 0 {
			return errors.New("heartbeat interval must be positive")
		}

		config := diagnostics.DefaultServerConfig()
		if flags.metricsAddress != "" {
			promRegistry := prometheus.NewRegistry()
			metrics, metricsErr := diagnostics.NewMetrics(promRegistry)
			if metricsErr != nil {
				return metricsErr
			}
			config.Metrics = metrics

			stopMetrics, serveErr := serveMetrics(ctx, flags.metricsAddress, promRegistry, log)
			if serveErr != nil {
				return serveErr
			}
			defer stopMetrics()
		}

		registry := eventsource.DefaultRegistry()
		heartbeat, sourceErr := registry.NewSource(HeartbeatSourceName, eventsource.WithKeywords(heartbeatKeyword))
		if sourceErr != nil && !errors.Is(sourceErr, eventsource.ErrSourceExists) {
			return sourceErr
		}
		if heartbeat == nil {
			heartbeat, _ = registry.Lookup(HeartbeatSourceName)
		}

		server := diagnostics.NewServer(registry, config, log)
		if startErr := server.Start(ctx, flags.address); startErr != nil {
			log.Error(startErr, "Could not start the diagnostic server", "Address", flags.address)
			return startErr
		}

		go writeHeartbeats(ctx, heartbeat, flags.heartbeatInterval)

		<-ctx.Done()
		server.Stop()

		// Monitors are usually gone by now. Those still connected get a moment to read what is queued.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), sessionDrainTimeout)
		defer drainCancel()
		if waitErr := server.WaitSessions(drainCtx); waitErr != nil {
			log.Info("Some monitors are still connected, exiting anyway")
		}

		return nil
	}
}

func writeHeartbeats(ctx context.Context, src *eventsource.Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var count uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count++
			if src.IsEnabled(eventsource.Informational, heartbeatKeyword) {
				src.Write(heartbeatEventID, "Heartbeat", eventsource.Informational, heartbeatKeyword, eventsource.F("Count", count))
			}
		}
	}
}

func serveMetrics(ctx context.Context, address string, gatherer prometheus.Gatherer, log logr.Logger) (func(), error) {
	lc := net.ListenConfig{}
	listener, listenErr := lc.Listen(ctx, "tcp", address)
	if listenErr != nil {
		log.Error(listenErr, "Could not listen for metrics requests", "Address", address)
		return nil, listenErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error(serveErr, "Metrics server failed")
		}
	}()
	log.Info("Serving metrics", "Address", listener.Addr().String())

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}, nil
}
