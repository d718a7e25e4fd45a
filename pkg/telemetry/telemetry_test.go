/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aspnet/AspLabs-sub007/pkg/logger"
)

func TestCallWithTelemetryRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	err := CallWithTelemetryNoResult(tracer, "ok-op", context.Background(), func(ctx context.Context) error {
		SetAttribute(ctx, "connection.id", int64(7))
		AddEvent(ctx, "checkpoint")
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("session failed")
	n, err := CallWithTelemetry(tracer, "failing-op", context.Background(), func(_ context.Context) (int, error) {
		return 0, failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, 0, n)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	require.Equal(t, "ok-op", spans[0].Name)
	require.Len(t, spans[0].Attributes, 1)
	require.Equal(t, int64(7), spans[0].Attributes[0].Value.AsInt64())
	require.Len(t, spans[0].Events, 1)

	require.Equal(t, "failing-op", spans[1].Name)
	require.Equal(t, codes.Error, spans[1].Status.Code)
	require.Equal(t, "session failed", spans[1].Status.Description)
}

func TestProgramTelemetryWritesSpansAtDebugLevel(t *testing.T) {
	logFolder := t.TempDir()
	t.Setenv(logger.DIAGNOSTICS_LOG_FOLDER, logFolder)
	t.Setenv(logger.DIAGNOSTICS_LOG_LEVEL, "debug")

	ts, tsErr := NewTelemetrySystemForProgram("telemetry-test")
	require.NoError(t, tsErr)

	err := CallWithTelemetryNoResult(ts.TracerProvider.Tracer("test"), "exported-op", context.Background(), func(ctx context.Context) error {
		AddEvent(ctx, "checkpoint")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, ts.ShutdownWithTimeout(5*time.Second))

	files, globErr := filepath.Glob(filepath.Join(logFolder, "telemetry-telemetry-test-*.json"))
	require.NoError(t, globErr)
	require.Len(t, files, 1)
	content, readErr := os.ReadFile(files[0])
	require.NoError(t, readErr)
	require.Contains(t, string(content), "exported-op")
	require.Contains(t, string(content), "checkpoint")
}

func TestProgramTelemetryExportsNothingByDefault(t *testing.T) {
	logFolder := t.TempDir()
	t.Setenv(logger.DIAGNOSTICS_LOG_FOLDER, logFolder)
	t.Setenv(logger.DIAGNOSTICS_LOG_LEVEL, "info")

	ts, tsErr := NewTelemetrySystemForProgram("telemetry-test")
	require.NoError(t, tsErr)
	require.NoError(t, ts.Shutdown(context.Background()))

	entries, readErr := os.ReadDir(logFolder)
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestShutdownWithTimeoutFlushesAfterProgramContextEnds(t *testing.T) {
	logFolder := t.TempDir()
	t.Setenv(logger.DIAGNOSTICS_LOG_FOLDER, logFolder)
	t.Setenv(logger.DIAGNOSTICS_LOG_LEVEL, "debug")

	ts, tsErr := NewTelemetrySystemForProgram("telemetry-late")
	require.NoError(t, tsErr)

	programCtx, programCancel := context.WithCancel(context.Background())
	_ = CallWithTelemetryNoResult(ts.TracerProvider.Tracer("test"), "late-op", programCtx, func(_ context.Context) error {
		return nil
	})
	programCancel()

	// Shutdown(programCtx) would give up right away and drop the batched span.
	require.NoError(t, ts.ShutdownWithTimeout(5*time.Second))

	files, globErr := filepath.Glob(filepath.Join(logFolder, "telemetry-telemetry-late-*.json"))
	require.NoError(t, globErr)
	require.Len(t, files, 1)
	content, readErr := os.ReadFile(files[0])
	require.NoError(t, readErr)
	require.Contains(t, string(content), "late-op")
}
