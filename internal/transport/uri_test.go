/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	type testcase struct {
		uri         string
		expectedURI string
		expectedErr error
	}

	testcases := []testcase{
		{"process://", fmt.Sprintf("pipe://diagnostics-%d", os.Getpid()), nil},
		{"process://4242", "pipe://diagnostics-4242", nil},
		{"PROCESS://4242/", "pipe://diagnostics-4242", nil},
		{"process://0", "", ErrInvalidAddress},
		{"process://abc", "", ErrInvalidAddress},
		{"pipe://testpipe", "pipe://testpipe", nil},
		{"pipe://", "", ErrInvalidAddress},
		{"pipe://nested/name", "", ErrInvalidAddress},
		{"tcp://127.0.0.1:5050", "tcp://127.0.0.1:5050", nil},
		{"tcp://localhost:0", "tcp://localhost:0", nil},
		{"tcp://[::1]:8080", "tcp://[::1]:8080", nil},
		{"tcp://127.0.0.1", "", ErrInvalidAddress},
		{"tcp://127.0.0.1:70000", "", ErrInvalidAddress},
		{"tcp://127.0.0.1:http", "", ErrInvalidAddress},
		{"http://localhost:80", "", ErrUnsupportedScheme},
		{"unix:///tmp/socket", "", ErrUnsupportedScheme},
		{"localhost:80", "", ErrInvalidAddress},
		{"", "", ErrInvalidAddress},
	}

	for _, tc := range testcases {
		tr, resolveErr := Resolve(tc.uri)
		if tc.expectedErr != nil {
			require.ErrorIs(t, resolveErr, tc.expectedErr, "URI '%s'", tc.uri)
			require.Nil(t, tr, "URI '%s'", tc.uri)
		} else {
			require.NoError(t, resolveErr, "URI '%s'", tc.uri)
			require.Equal(t, tc.expectedURI, tr.String(), "URI '%s'", tc.uri)
		}
	}
}
