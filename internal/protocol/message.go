/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind uint8

const (
	KindSourceCreated Kind = 1
	KindEventWritten  Kind = 2
	KindEnableEvents  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSourceCreated:
		return "SourceCreated"
	case KindEventWritten:
		return "EventWritten"
	case KindEnableEvents:
		return "EnableEvents"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) IsValid() bool {
	return k >= KindSourceCreated && k <= KindEnableEvents
}

// Message is one of *SourceCreated, *EventWritten or *EnableEvents.
type Message interface {
	Kind() Kind
}

// SourceCreated announces an event source that exists in the monitored process.
type SourceCreated struct {
	Name     string
	ID       uuid.UUID
	Keywords uint64
	Level    uint8
}

func (*SourceCreated) Kind() Kind { return KindSourceCreated }

// Field is a single named value carried by an event.
type Field struct {
	Name  string
	Value string
}

// EventWritten carries one event emitted by an enabled source.
type EventWritten struct {
	Source    string
	EventID   int32
	EventName string
	Level     uint8
	Keywords  uint64
	Timestamp time.Time
	Fields    []Field
}

func (*EventWritten) Kind() Kind { return KindEventWritten }

// Argument is a provider-specific key/value pair that accompanies an enable request.
type Argument struct {
	Key   string
	Value string
}

// EnableRequest asks the server to turn on a provider at the given level and keywords.
type EnableRequest struct {
	ProviderName string
	Level        uint8
	Keywords     uint64
	Arguments    []Argument
}

// EnableEvents is sent by the monitor. A single message may carry several requests.
type EnableEvents struct {
	Requests []EnableRequest
}

func (*EnableEvents) Kind() Kind { return KindEnableEvents }

var (
	_ Message = (*SourceCreated)(nil)
	_ Message = (*EventWritten)(nil)
	_ Message = (*EnableEvents)(nil)
)
