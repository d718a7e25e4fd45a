/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"os"
	"runtime"
)

const (
	PermissionOnlyOwnerReadWrite         os.FileMode = 0600
	PermissionOnlyOwnerReadWriteTraverse os.FileMode = 0700 // For directories
)

var (
	crlf = []byte("\r\n")
	lf   = []byte("\n")
)

func CRLF() []byte {
	return crlf
}

// LineSep returns the line separator of the current platform.
func LineSep() []byte {
	if IsWindows() {
		return crlf
	}
	return lf
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}
