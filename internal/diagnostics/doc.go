/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package diagnostics streams in-process instrumentation events to out-of-process monitors.
//
// A Server listens on a connection URI (see transport.Resolve) and runs one Session per accepted
// connection. Every Session owns a Listener that subscribes to the event registry independently,
// so concurrent monitors each receive their own copy of the event stream.
//
// Monitors ask for events by sending EnableEvents requests. A request for a source that does not
// exist yet is kept until the source is created; a newer request for the same source replaces it.
package diagnostics
