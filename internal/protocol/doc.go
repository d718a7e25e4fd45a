/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package protocol implements the binary frame format spoken between a diagnostic server
// and a monitor.
//
// Every frame consists of a 4-byte little-endian payload length, a 1-byte message kind,
// and the payload itself:
//
//	[length uint32][kind uint8][payload: length bytes]
//
// Strings are encoded as a uint32 byte count followed by UTF-8 bytes. All integers are little-endian.
// The codec does no semantic validation: an EnableEvents request for an unknown provider
// is a well-formed message.
package protocol
