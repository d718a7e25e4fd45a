/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import "errors"

var (
	// ErrNeedMoreData is returned by TryDecode when the buffer holds only part of a frame.
	// Nothing has been consumed and decoding can be retried once more bytes arrive.
	ErrNeedMoreData = errors.New("incomplete frame")

	// ErrProtocol is wrapped by every error caused by malformed input.
	// The byte stream cannot be resynchronized after such an error.
	ErrProtocol = errors.New("protocol error")
)
