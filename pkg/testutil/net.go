/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"testing"
)

// UniquePipeName returns a local pipe name that is unlikely to collide with pipes
// used by other tests running in parallel (possibly in other processes).
func UniquePipeName(t *testing.T) string {
	base := strings.NewReplacer("/", "-", " ", "-", "_", "-").Replace(t.Name())
	if len(base) > 24 {
		base = base[:24]
	}
	return strings.ToLower(fmt.Sprintf("%s-%d-%d", base, os.Getpid(), rand.Uint32()))
}
