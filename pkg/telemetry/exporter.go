/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"

	"github.com/aspnet/AspLabs-sub007/pkg/logger"
	"github.com/aspnet/AspLabs-sub007/pkg/osutil"
)

// newTraceExporter returns an exporter that writes spans as JSON into the diagnostics log folder
// if the diagnostics log level is debug (or more verbose). Otherwise it returns nil and spans are not exported.
// The returned file must be closed after the exporter is shut down.
func newTraceExporter(logName string) (sdktrace.SpanExporter, *os.File, error) {
	logLevel, err := logger.GetDiagnosticsLogLevel()
	if err != nil || logLevel > zapcore.DebugLevel {
		return nil, nil, nil
	}

	logFolder, err := logger.EnsureDiagnosticsLogsFolder()
	if err != nil {
		return nil, nil, err
	}

	telemetryFileName := fmt.Sprintf("telemetry-%s-%d-%d.json", logName, time.Now().Unix(), os.Getpid())
	telemetryFile, err := os.OpenFile(filepath.Join(logFolder, telemetryFileName), os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_TRUNC, osutil.PermissionOnlyOwnerReadWrite)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create telemetry file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(telemetryFile))
	if err != nil {
		_ = telemetryFile.Close()
		return nil, nil, err
	}
	return exporter, telemetryFile, nil
}
