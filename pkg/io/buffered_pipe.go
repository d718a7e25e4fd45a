/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package io

import (
	"bytes"
	"io"
	"sync"
)

const UnlimitedSize uint = 0

type bufferedPipe struct {
	lock    *sync.Mutex
	cond    *sync.Cond
	data    *bytes.Buffer
	maxSize uint
	rerr    error
	werr    error
}

// BufferedPipeReader is the reading half of a buffered pipe.
type BufferedPipeReader struct {
	*bufferedPipe
}

func (bpr *BufferedPipeReader) Read(p []byte) (int, error) {
	bpr.lock.Lock()
	defer bpr.lock.Unlock()

	for {
		if bpr.rerr != nil {
			return 0, bpr.rerr
		}

		if bpr.data.Len() > 0 {
			n, err := bpr.data.Read(p)
			// Writers might be waiting for space to free up
			bpr.cond.Broadcast()
			return n, err
		}

		if bpr.werr != nil {
			// The writer is gone and all buffered data has been consumed.
			return 0, io.EOF
		}

		bpr.cond.Wait()
	}
}

// Closes the reader half of the pipe, subsequent reads and writes will receive io.ErrClosedPipe.
func (bpr *BufferedPipeReader) Close() error {
	return bpr.CloseWithError(nil)
}

// Closes the reader half of the pipe. Subsequent reads will receive the passed error,
// subsequent writes will receive io.ErrClosedPipe. Buffered data is discarded.
// Like io.PipeReader.CloseWithError(), it never overwrites the previous error and always returns nil.
func (bpr *BufferedPipeReader) CloseWithError(err error) error {
	bpr.lock.Lock()
	defer bpr.lock.Unlock()

	if err == nil {
		err = io.ErrClosedPipe
	}
	if bpr.rerr == nil {
		bpr.rerr = err
		bpr.data.Reset()
	}

	// Wake up both blocked readers and writers waiting for buffer space.
	bpr.cond.Broadcast()
	return nil
}

// BufferedPipeWriter is the writing half of a buffered pipe.
type BufferedPipeWriter struct {
	*bufferedPipe
}

func (bpw *BufferedPipeWriter) Write(p []byte) (int, error) {
	bpw.lock.Lock()
	defer bpw.lock.Unlock()

	written := 0
	for written < len(p) {
		if bpw.werr != nil {
			return written, bpw.werr
		}
		if bpw.rerr != nil {
			return written, io.ErrClosedPipe
		}

		chunk := p[written:]
		if bpw.maxSize != UnlimitedSize {
			free := int(bpw.maxSize) - bpw.data.Len()
			if free <= 0 {
				bpw.cond.Wait()
				continue
			}
			if len(chunk) > free {
				chunk = chunk[:free]
			}
		}

		n, _ := bpw.data.Write(chunk) // bytes.Buffer.Write() never returns an error
		written += n
		bpw.cond.Broadcast()
	}

	return written, nil
}

// Closes the writer half of the pipe. Subsequent writes will receive io.ErrClosedPipe,
// readers will receive io.EOF once the buffered data is consumed.
func (bpw *BufferedPipeWriter) Close() error {
	return bpw.CloseWithError(nil)
}

// Closes the writer half of the pipe. Subsequent writes will receive the passed error (io.ErrClosedPipe if nil).
// Readers will receive io.EOF once the buffered data is consumed.
// Like io.PipeWriter.CloseWithError(), it never overwrites the previous error and always returns nil.
func (bpw *BufferedPipeWriter) CloseWithError(err error) error {
	bpw.lock.Lock()
	defer bpw.lock.Unlock()

	if err == nil {
		err = io.ErrClosedPipe
	}
	if bpw.werr == nil {
		bpw.werr = err
	}

	// Need to wake up readers, if any, and tell them that no further data will be coming
	bpw.cond.Broadcast()
	return nil
}

// NewBufferedPipe is like io.Pipe(), except it includes an automatically-expanding buffer,
// so writers are never blocked. It is also goroutine-safe.
// Inspiration/reference: https://github.com/golang/go/issues/28790, https://github.com/golang/go/issues/34502, https://github.com/acomagu/bufpipe
func NewBufferedPipe() (*BufferedPipeReader, *BufferedPipeWriter) {
	return NewBufferedPipeWithMaxSize(UnlimitedSize)
}

// NewBufferedPipeWithMaxSize creates a buffered pipe that holds at most maxSize bytes.
// Writers block when the buffer is full until a reader consumes some data.
// A maxSize of zero means the buffer is unlimited.
func NewBufferedPipeWithMaxSize(maxSize uint) (*BufferedPipeReader, *BufferedPipeWriter) {
	p := bufferedPipe{
		data:    new(bytes.Buffer),
		lock:    new(sync.Mutex),
		maxSize: maxSize,
	}
	p.cond = sync.NewCond(p.lock)

	return &BufferedPipeReader{bufferedPipe: &p}, &BufferedPipeWriter{bufferedPipe: &p}
}

var _ io.ReadCloser = (*BufferedPipeReader)(nil)
var _ io.WriteCloser = (*BufferedPipeWriter)(nil)
