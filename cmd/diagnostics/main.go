/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"os"
	"time"

	kubeapiserver "k8s.io/apiserver/pkg/server"

	cmdutil "github.com/aspnet/AspLabs-sub007/internal/commands"
	"github.com/aspnet/AspLabs-sub007/internal/diagnostics/commands"
	"github.com/aspnet/AspLabs-sub007/pkg/logger"
	"github.com/aspnet/AspLabs-sub007/pkg/osutil"
	"github.com/aspnet/AspLabs-sub007/pkg/resiliency"
	"github.com/aspnet/AspLabs-sub007/pkg/telemetry"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3

	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	log := logger.New("diagnostics")
	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			_, _ = os.Stderr.WriteString(panicErr.Error() + string(osutil.LineSep()))
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx := kubeapiserver.SetupSignalContext()

	telemetrySystem, err := telemetry.NewTelemetrySystemForProgram("diagnostics")
	if err != nil {
		cmdutil.ErrorExit(log, err, errSetup)
	}

	root, err := commands.NewRootCommand(log)
	if err != nil {
		cmdutil.ErrorExit(log, err, errSetup)
	}

	err = root.ExecuteContext(ctx)

	if shutdownErr := telemetrySystem.ShutdownWithTimeout(telemetryShutdownTimeout); shutdownErr != nil {
		log.Error(shutdownErr, "Could not flush telemetry")
	}
	if err != nil {
		cmdutil.ErrorExit(log, err, errCommandError)
	} else {
		log.Flush()
	}
}
