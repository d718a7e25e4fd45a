/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"os"

	"github.com/aspnet/AspLabs-sub007/pkg/logger"
	"github.com/aspnet/AspLabs-sub007/pkg/osutil"
)

func WithNewline(b []byte) []byte {
	return append(b, osutil.LineSep()...)
}

// ErrorExit reports the error on stderr, flushes the log and exits the program with the given code.
func ErrorExit(log *logger.Logger, err error, exitCode int) {
	_, _ = os.Stderr.Write(WithNewline([]byte(err.Error())))
	log.Error(err, "Program failed", "ExitCode", exitCode)
	log.Flush()
	os.Exit(exitCode)
}
