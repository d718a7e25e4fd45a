/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package protocol

import (
	"errors"
	"fmt"
	"io"
)

const defaultReadChunkSize = 4096

// Reader decodes a sequence of frames from a byte stream.
// Bytes are accumulated until TryDecode can produce a complete message.
type Reader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	err   error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     r,
		chunk: make([]byte, defaultReadChunkSize),
	}
}

// ReadMessage returns the next message from the stream.
// It returns io.EOF when the stream ends on a frame boundary, and an error wrapping
// io.ErrUnexpectedEOF when the stream ends in the middle of a frame.
func (fr *Reader) ReadMessage() (Message, error) {
	for {
		msg, n, decodeErr := TryDecode(fr.buf)
		if decodeErr == nil {
			fr.buf = fr.buf[n:]
			if len(fr.buf) == 0 {
				fr.buf = nil
			}
			return msg, nil
		}
		if !errors.Is(decodeErr, ErrNeedMoreData) {
			return nil, decodeErr
		}

		if fr.err != nil {
			if errors.Is(fr.err, io.EOF) && len(fr.buf) > 0 {
				return nil, fmt.Errorf("stream ended with %d bytes of an incomplete frame: %w", len(fr.buf), io.ErrUnexpectedEOF)
			}
			return nil, fr.err
		}

		n, readErr := fr.r.Read(fr.chunk)
		fr.buf = append(fr.buf, fr.chunk[:n]...)
		if readErr != nil {
			fr.err = readErr
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded.
func (fr *Reader) Buffered() int {
	return len(fr.buf)
}
