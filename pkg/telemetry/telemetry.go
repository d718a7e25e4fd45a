/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aspnet/AspLabs-sub007"

type TelemetrySystem struct {
	TracerProvider *sdktrace.TracerProvider
	traceFile      *os.File
}

// NewTelemetrySystem installs a global tracer provider. Spans are exported only
// if span processors are passed in.
func NewTelemetrySystem(processors ...sdktrace.SpanProcessor) TelemetrySystem {
	opts := []sdktrace.TracerProviderOption{}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return TelemetrySystem{TracerProvider: tp}
}

// NewTelemetrySystemForProgram installs a global tracer provider for the named program.
// If the diagnostics log level is debug, spans are batched and written to a JSON file in the diagnostics log folder.
func NewTelemetrySystemForProgram(programName string) (TelemetrySystem, error) {
	exporter, traceFile, err := newTraceExporter(programName)
	if err != nil {
		return TelemetrySystem{}, err
	}
	if exporter == nil {
		return NewTelemetrySystem(), nil
	}

	ts := NewTelemetrySystem(sdktrace.NewBatchSpanProcessor(exporter))
	ts.traceFile = traceFile
	return ts, nil
}

// Shutdown flushes pending spans and releases the exporters.
func (ts TelemetrySystem) Shutdown(ctx context.Context) error {
	err := ts.TracerProvider.Shutdown(ctx)
	if ts.traceFile != nil {
		err = errors.Join(err, ts.traceFile.Close())
	}
	return err
}

// ShutdownWithTimeout is Shutdown that does not depend on a caller context.
// Programs call it on exit, when their main context is typically cancelled already.
func (ts TelemetrySystem) ShutdownWithTimeout(timeout time.Duration) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	return ts.Shutdown(shutdownCtx)
}

// GetTracer returns a tracer from the global tracer provider.
func GetTracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

func CallWithTelemetry[TResult any](tracer trace.Tracer, spanName string, parentCtx context.Context, fn func(ctx context.Context) (TResult, error)) (TResult, error) {
	spanCtx, span := tracer.Start(parentCtx, spanName)
	defer span.End()

	result, err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func CallWithTelemetryNoResult(tracer trace.Tracer, spanName string, parentCtx context.Context, fn func(ctx context.Context) error) error {
	_, err := CallWithTelemetry(tracer, spanName, parentCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func SetAttribute(ctx context.Context, key string, value any) {
	span := trace.SpanFromContext(ctx)

	switch v := value.(type) {
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case string:
		span.SetAttributes(attribute.String(key, v))
	default:
		panic(fmt.Sprintf("unknown telemetry type for key %s", key))
	}
}

func AddEvent(ctx context.Context, name string, options ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, options...)
}
