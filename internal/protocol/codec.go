/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// HeaderSize is the size of the length and kind fields that precede every payload.
	HeaderSize = 5

	// MaxPayloadSize is the largest payload a peer may send.
	MaxPayloadSize = 16 * 1024 * 1024
)

// Encode produces the complete frame for the message.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("cannot encode a nil message")
	}

	// Reserve the header, the length is patched in once the payload is known.
	buf := make([]byte, HeaderSize, 128)
	buf[4] = byte(m.Kind())

	switch msg := m.(type) {
	case *SourceCreated:
		buf = encodeSourceCreated(buf, msg)
	case *EventWritten:
		buf = encodeEventWritten(buf, msg)
	case *EnableEvents:
		buf = encodeEnableEvents(buf, msg)
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", m)
	}

	payloadLen := len(buf) - HeaderSize
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%s payload size %d exceeds maximum %d", m.Kind(), payloadLen, MaxPayloadSize)
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(payloadLen))
	return buf, nil
}

// WriteMessage encodes the message and writes the frame to w.
func WriteMessage(w io.Writer, m Message) error {
	frame, encodeErr := Encode(m)
	if encodeErr != nil {
		return encodeErr
	}
	if _, writeErr := w.Write(frame); writeErr != nil {
		return fmt.Errorf("failed to write %s frame: %w", m.Kind(), writeErr)
	}
	return nil
}

// TryDecode decodes the first frame in buf.
// It returns the message and the number of bytes consumed. If buf holds an incomplete frame,
// it returns ErrNeedMoreData and consumes nothing. Malformed frames yield an error wrapping ErrProtocol.
func TryDecode(buf []byte) (Message, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMoreData
	}

	payloadLen := binary.LittleEndian.Uint32(buf[0:4])
	if payloadLen > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: payload size %d exceeds maximum %d", ErrProtocol, payloadLen, MaxPayloadSize)
	}
	kind := Kind(buf[4])
	if !kind.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown message kind %d", ErrProtocol, uint8(kind))
	}

	frameLen := HeaderSize + int(payloadLen)
	if len(buf) < frameLen {
		return nil, 0, ErrNeedMoreData
	}

	r := &payloadReader{buf: buf[HeaderSize:frameLen]}
	var msg Message
	switch kind {
	case KindSourceCreated:
		msg = decodeSourceCreated(r)
	case KindEventWritten:
		msg = decodeEventWritten(r)
	case KindEnableEvents:
		msg = decodeEnableEvents(r)
	}

	if r.err == nil && r.remaining() > 0 {
		r.err = fmt.Errorf("%d unexpected trailing bytes", r.remaining())
	}
	if r.err != nil {
		return nil, 0, fmt.Errorf("%w: malformed %s payload: %w", ErrProtocol, kind, r.err)
	}

	return msg, frameLen, nil
}

func encodeSourceCreated(buf []byte, msg *SourceCreated) []byte {
	buf = appendString(buf, msg.Name)
	buf = append(buf, msg.ID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, msg.Keywords)
	return append(buf, msg.Level)
}

func decodeSourceCreated(r *payloadReader) *SourceCreated {
	msg := &SourceCreated{}
	msg.Name = r.string()
	copy(msg.ID[:], r.bytes(len(msg.ID)))
	msg.Keywords = r.uint64()
	msg.Level = r.uint8()
	return msg
}

func encodeEventWritten(buf []byte, msg *EventWritten) []byte {
	buf = appendString(buf, msg.Source)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(msg.EventID))
	buf = appendString(buf, msg.EventName)
	buf = append(buf, msg.Level)
	buf = binary.LittleEndian.AppendUint64(buf, msg.Keywords)
	var ts int64
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp.UnixNano()
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ts))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(msg.Fields)))
	for _, f := range msg.Fields {
		buf = appendString(buf, f.Name)
		buf = appendString(buf, f.Value)
	}
	return buf
}

func decodeEventWritten(r *payloadReader) *EventWritten {
	msg := &EventWritten{}
	msg.Source = r.string()
	msg.EventID = int32(r.uint32())
	msg.EventName = r.string()
	msg.Level = r.uint8()
	msg.Keywords = r.uint64()
	if ts := int64(r.uint64()); ts != 0 {
		msg.Timestamp = time.Unix(0, ts).UTC()
	}
	count := r.count(8) // each field needs at least two string length prefixes
	if count > 0 {
		msg.Fields = make([]Field, 0, count)
	}
	for i := 0; i < count && r.err == nil; i++ {
		msg.Fields = append(msg.Fields, Field{Name: r.string(), Value: r.string()})
	}
	return msg
}

func encodeEnableEvents(buf []byte, msg *EnableEvents) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(msg.Requests)))
	for _, req := range msg.Requests {
		buf = appendString(buf, req.ProviderName)
		buf = append(buf, req.Level)
		buf = binary.LittleEndian.AppendUint64(buf, req.Keywords)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(req.Arguments)))
		for _, arg := range req.Arguments {
			buf = appendString(buf, arg.Key)
			buf = appendString(buf, arg.Value)
		}
	}
	return buf
}

func decodeEnableEvents(r *payloadReader) *EnableEvents {
	msg := &EnableEvents{}
	count := r.count(17) // provider name prefix, level, keywords, argument count
	if count > 0 {
		msg.Requests = make([]EnableRequest, 0, count)
	}
	for i := 0; i < count && r.err == nil; i++ {
		req := EnableRequest{}
		req.ProviderName = r.string()
		req.Level = r.uint8()
		req.Keywords = r.uint64()
		argCount := r.count(8)
		if argCount > 0 {
			req.Arguments = make([]Argument, 0, argCount)
		}
		for j := 0; j < argCount && r.err == nil; j++ {
			req.Arguments = append(req.Arguments, Argument{Key: r.string(), Value: r.string()})
		}
		msg.Requests = append(msg.Requests, req)
	}
	return msg
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// payloadReader reads fields from a complete payload. The first failure sticks,
// subsequent reads return zero values.
type payloadReader struct {
	buf []byte
	off int
	err error
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.err = fmt.Errorf("field of %d bytes at offset %d exceeds payload size %d", n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *payloadReader) uint8() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) uint32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) uint64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *payloadReader) string() string {
	n := r.uint32()
	if r.err != nil {
		return ""
	}
	if n > math.MaxInt32 {
		r.err = fmt.Errorf("string length %d is invalid", n)
		return ""
	}
	return string(r.bytes(int(n)))
}

// count reads an element count and verifies that the payload can hold that many elements
// of at least minElemSize bytes each, so a corrupt count cannot trigger a huge allocation.
func (r *payloadReader) count(minElemSize int) int {
	n := r.uint32()
	if r.err != nil {
		return 0
	}
	if uint64(n)*uint64(minElemSize) > uint64(r.remaining()) {
		r.err = fmt.Errorf("element count %d does not fit in the remaining %d bytes", n, r.remaining())
		return 0
	}
	return int(n)
}
