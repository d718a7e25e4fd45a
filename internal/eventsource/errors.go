/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import "errors"

var (
	ErrSourceExists       = errors.New("event source already exists")
	ErrSourceNotFound     = errors.New("event source not found")
	ErrSubscriptionClosed = errors.New("subscription has been cancelled")
)
