/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package io_test

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	diag_io "github.com/aspnet/AspLabs-sub007/pkg/io"
)

func TestMultipleRwOps(t *testing.T) {
	reader, writer := diag_io.NewBufferedPipe()
	sync := make(chan struct{})

	doReading := func(what string) {
		buf := make([]byte, 100)
		n, err := reader.Read(buf)
		require.NoError(t, err)
		require.Equal(t, len(what), n)
		require.Equal(t, what, string(buf[0:n]))
		sync <- struct{}{}
	}

	doWriting := func(what string) {
		n, err := writer.Write([]byte(what))
		require.NoError(t, err)
		require.Equal(t, len(what), n)
	}

	doWriting("alpha")
	go doReading("alpha")
	<-sync

	doWriting("bravo")
	go doReading("bravo")
	<-sync
}

func TestBufferedPipeReaderGetsEOFAfterDrain(t *testing.T) {
	reader, writer := diag_io.NewBufferedPipe()

	_, err := writer.Write([]byte("last words"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, readErr := io.ReadAll(reader)
	require.NoError(t, readErr)
	require.Equal(t, "last words", string(data))

	n, readErr := reader.Read(make([]byte, 10))
	require.Equal(t, 0, n)
	require.ErrorIs(t, readErr, io.EOF)

	_, writeErr := writer.Write([]byte("more"))
	require.ErrorIs(t, writeErr, io.ErrClosedPipe)
}

func TestBufferedPipeReaderCloseUnblocksRead(t *testing.T) {
	reader, _ := diag_io.NewBufferedPipe()
	closeReason := errors.New("connection torn down")

	readDone := make(chan error, 1)
	go func() {
		_, readErr := reader.Read(make([]byte, 10))
		readDone <- readErr
	}()

	select {
	case <-readDone:
		t.Fatal("Read should block while there is no data")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, reader.CloseWithError(closeReason))

	select {
	case readErr := <-readDone:
		require.ErrorIs(t, readErr, closeReason)
	case <-time.After(2 * time.Second):
		t.Fatal("Read should have been unblocked by CloseWithError()")
	}
}

func TestBufferedPipeCloseWithErrorKeepsFirstError(t *testing.T) {
	reader, _ := diag_io.NewBufferedPipe()
	first := errors.New("first")

	require.NoError(t, reader.CloseWithError(first))
	require.NoError(t, reader.CloseWithError(errors.New("second")))

	_, readErr := reader.Read(make([]byte, 1))
	require.ErrorIs(t, readErr, first)
}

func TestBufferedPipeMaxSizeWriterBlocksUntilRead(t *testing.T) {
	const maxSize uint = 512
	reader, writer := diag_io.NewBufferedPipeWithMaxSize(maxSize)
	defer reader.Close()
	defer writer.Close()

	data := make([]byte, int(maxSize))
	n, writeErr := writer.Write(data)
	require.NoError(t, writeErr)
	require.Equal(t, int(maxSize), n)

	writeBlocked := make(chan struct{})
	go func() {
		_, _ = writer.Write([]byte("extra"))
		close(writeBlocked)
	}()

	select {
	case <-writeBlocked:
		t.Fatal("Write should be blocked when buffer is full")
	case <-time.After(200 * time.Millisecond):
	}

	buf := make([]byte, 100)
	n, readErr := reader.Read(buf)
	require.NoError(t, readErr)
	require.Greater(t, n, 0)

	select {
	case <-writeBlocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Write should have unblocked after reading data")
	}
}

func TestBufferedPipeReaderCloseUnblocksFullWriter(t *testing.T) {
	reader, writer := diag_io.NewBufferedPipeWithMaxSize(16)

	var written atomic.Int64
	writeDone := make(chan error, 1)
	go func() {
		n, writeErr := writer.Write(make([]byte, 64))
		written.Store(int64(n))
		writeDone <- writeErr
	}()

	select {
	case <-writeDone:
		t.Fatal("Write should be blocked when buffer is full")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, reader.Close())

	select {
	case writeErr := <-writeDone:
		require.ErrorIs(t, writeErr, io.ErrClosedPipe)
		require.Equal(t, int64(16), written.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("Write should have been unblocked by closing the reader")
	}
}
