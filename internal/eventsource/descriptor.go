/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import (
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Namespace for name-derived source identifiers.
var sourceNamespace = uuid.MustParse("482C2DB2-C390-47C8-87F8-1A15BFC130FB")

// Descriptor identifies an event source. It never changes after the source is created.
type Descriptor struct {
	Name     string
	ID       uuid.UUID
	Keywords Keywords
	Level    Level
}

// IDFromName derives a stable source identifier from the source name.
// The name is upper-cased and hashed as big-endian UTF-16, so the identifier does not depend on name casing.
func IDFromName(name string) uuid.UUID {
	units := utf16.Encode([]rune(strings.ToUpper(name)))
	data := make([]byte, 0, 2*len(units))
	for _, u := range units {
		data = append(data, byte(u>>8), byte(u))
	}
	return uuid.NewSHA1(sourceNamespace, data)
}

// Field is a single named value carried by an event.
type Field struct {
	Name  string
	Value string
}

// Argument is a key/value pair passed along with an enable command.
type Argument struct {
	Key   string
	Value string
}

// Event is a single occurrence written by a source.
type Event struct {
	Source    string
	EventID   int32
	Name      string
	Level     Level
	Keywords  Keywords
	Timestamp time.Time
	Fields    []Field
}

// Observer receives registry notifications. Callbacks run on the goroutine that caused them
// (the one that created the source or wrote the event) and must not block.
type Observer interface {
	OnSourceCreated(d Descriptor)
	OnEventWritten(e Event)
}

// Command describes a change of a subscriber's interest in a source.
type Command struct {
	Enabled   bool
	Level     Level
	Keywords  Keywords
	Arguments []Argument
}
