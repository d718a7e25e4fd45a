/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleMessages() []Message {
	return []Message{
		&SourceCreated{
			Name:     "Microsoft-Extensions-Logging",
			ID:       uuid.MustParse("3ac73b97-af73-50e9-0822-5da4367920d0"),
			Keywords: 0x8,
			Level:    4,
		},
		&SourceCreated{Name: ""},
		&EventWritten{
			Source:    "Microsoft-Extensions-Logging",
			EventID:   -3,
			EventName: "MessageJson",
			Level:     2,
			Keywords:  0xFFFF_0000_0000_0001,
			Timestamp: time.Unix(1_700_000_000, 123_456_789).UTC(),
			Fields: []Field{
				{Name: "Logger", Value: "Orders"},
				{Name: "Message", Value: "päivää 👋"},
			},
		},
		&EventWritten{Source: "Empty"},
		&EnableEvents{
			Requests: []EnableRequest{
				{ProviderName: "Microsoft-Extensions-Logging", Level: 5, Keywords: 0x4, Arguments: []Argument{
					{Key: "FilterSpecs", Value: "Orders:Debug"},
					{Key: "", Value: ""},
				}},
				{ProviderName: "System.Runtime", Level: 0, Keywords: 0},
			},
		},
		&EnableEvents{},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, msg := range sampleMessages() {
		frame, encodeErr := Encode(msg)
		require.NoError(t, encodeErr)
		require.Equal(t, byte(msg.Kind()), frame[4])
		require.Equal(t, len(frame)-HeaderSize, int(binary.LittleEndian.Uint32(frame[0:4])))

		decoded, n, decodeErr := TryDecode(frame)
		require.NoError(t, decodeErr, "kind %s", msg.Kind())
		require.Equal(t, len(frame), n)
		require.Equal(t, msg, decoded)
	}
}

func TestTryDecodePartialFrameConsumesNothing(t *testing.T) {
	t.Parallel()

	for _, msg := range sampleMessages() {
		frame, encodeErr := Encode(msg)
		require.NoError(t, encodeErr)

		for prefix := 0; prefix < len(frame); prefix++ {
			decoded, n, decodeErr := TryDecode(frame[:prefix])
			require.ErrorIs(t, decodeErr, ErrNeedMoreData, "kind %s, prefix %d", msg.Kind(), prefix)
			require.Nil(t, decoded)
			require.Equal(t, 0, n)
		}
	}
}

func TestTryDecodeConsumesOnlyFirstFrame(t *testing.T) {
	t.Parallel()

	msgs := sampleMessages()
	var stream []byte
	for _, msg := range msgs {
		frame, encodeErr := Encode(msg)
		require.NoError(t, encodeErr)
		stream = append(stream, frame...)
	}

	for _, expected := range msgs {
		decoded, n, decodeErr := TryDecode(stream)
		require.NoError(t, decodeErr)
		require.Equal(t, expected, decoded)
		stream = stream[n:]
	}
	require.Empty(t, stream)
}

func TestTryDecodeRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	valid, encodeErr := Encode(&SourceCreated{Name: "Source", Level: 1})
	require.NoError(t, encodeErr)

	unknownKind := bytes.Clone(valid)
	unknownKind[4] = 9

	zeroKind := bytes.Clone(valid)
	zeroKind[4] = 0

	oversized := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(oversized, MaxPayloadSize+1)
	oversized[4] = byte(KindEventWritten)

	// Claims a 1 KiB name inside a short payload.
	truncatedField := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(truncatedField[HeaderSize:], 1024)

	trailingBytes := append(bytes.Clone(valid), 0xAA)
	binary.LittleEndian.PutUint32(trailingBytes, uint32(len(trailingBytes)-HeaderSize))

	// Claims four billion requests in a four byte payload.
	hugeCount := []byte{4, 0, 0, 0, byte(KindEnableEvents), 0xFF, 0xFF, 0xFF, 0xFF}

	cases := map[string][]byte{
		"unknown kind":    unknownKind,
		"zero kind":       zeroKind,
		"oversized":       oversized,
		"truncated field": truncatedField,
		"trailing bytes":  trailingBytes,
		"huge count":      hugeCount,
	}

	for name, frame := range cases {
		decoded, n, decodeErr := TryDecode(frame)
		require.ErrorIs(t, decodeErr, ErrProtocol, name)
		require.False(t, errors.Is(decodeErr, ErrNeedMoreData), name)
		require.Nil(t, decoded, name)
		require.Equal(t, 0, n, name)
	}
}

func TestEncodeRejectsNilMessage(t *testing.T) {
	t.Parallel()

	_, encodeErr := Encode(nil)
	require.Error(t, encodeErr)
}

// Splits every read into single bytes to exercise frame reassembly.
type oneByteReader struct {
	r io.Reader
}

func (obr oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return obr.r.Read(p[:1])
}

func TestReaderReassemblesFrames(t *testing.T) {
	t.Parallel()

	msgs := sampleMessages()
	var stream bytes.Buffer
	for _, msg := range msgs {
		require.NoError(t, WriteMessage(&stream, msg))
	}

	fr := NewReader(oneByteReader{r: &stream})
	for _, expected := range msgs {
		decoded, readErr := fr.ReadMessage()
		require.NoError(t, readErr)
		require.Equal(t, expected, decoded)
	}

	_, readErr := fr.ReadMessage()
	require.ErrorIs(t, readErr, io.EOF)
	require.Equal(t, 0, fr.Buffered())
}

func TestReaderReportsTruncatedStream(t *testing.T) {
	t.Parallel()

	frame, encodeErr := Encode(&EnableEvents{Requests: []EnableRequest{{ProviderName: "Truncated"}}})
	require.NoError(t, encodeErr)

	fr := NewReader(bytes.NewReader(frame[:len(frame)-2]))
	_, readErr := fr.ReadMessage()
	require.ErrorIs(t, readErr, io.ErrUnexpectedEOF)
}

func TestReaderStopsOnProtocolError(t *testing.T) {
	t.Parallel()

	fr := NewReader(bytes.NewReader([]byte{0, 0, 0, 0, 42}))
	_, readErr := fr.ReadMessage()
	require.ErrorIs(t, readErr, ErrProtocol)
}
