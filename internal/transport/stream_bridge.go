/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	diag_io "github.com/aspnet/AspLabs-sub007/pkg/io"
)

const (
	defaultBridgeBufferSize = 4 * 1024

	// Backpressure limits. A peer that does not read stalls our writer and vice versa,
	// instead of growing the buffers without bound.
	maxInboundBuffered  uint = 1024 * 1024
	maxOutboundBuffered uint = 1024 * 1024
)

// ErrPipeClosed is returned by DuplexPipe reads and writes after the pipe has been torn down.
var ErrPipeClosed = errors.New("duplex pipe is closed")

// Flusher is implemented by streams that buffer writes internally.
type Flusher interface {
	Flush() error
}

// DuplexPipe exposes a connection as two independent byte pipes.
// Input carries bytes received from the peer, Output carries bytes to send to the peer.
// Input and Output are meant to be used by separate goroutines.
type DuplexPipe struct {
	Input  io.ReadCloser
	Output io.WriteCloser

	inboundReader  *diag_io.BufferedPipeReader
	outboundWriter *diag_io.BufferedPipeWriter
	cancel         context.CancelFunc
	done           chan struct{}

	lock *sync.Mutex
	err  error
}

// NewStreamBridge starts moving bytes between the stream and the returned DuplexPipe.
//
// The receive loop copies stream data to Input, the send loop copies Output data to the stream.
// Both loops share one cancellation signal: when either loop ends (end of stream, I/O failure,
// Output closed) or the context is cancelled, the stream is closed and both loops exit.
// Input then reports end of data once buffered bytes are consumed, and Output writes fail.
func NewStreamBridge(ctx context.Context, stream io.ReadWriteCloser, log logr.Logger) *DuplexPipe {
	inR, inW := diag_io.NewBufferedPipeWithMaxSize(maxInboundBuffered)
	outR, outW := diag_io.NewBufferedPipeWithMaxSize(maxOutboundBuffered)
	bridgeCtx, cancel := context.WithCancel(ctx)

	dp := &DuplexPipe{
		Input:          inR,
		Output:         outW,
		inboundReader:  inR,
		outboundWriter: outW,
		cancel:         cancel,
		done:           make(chan struct{}),
		lock:           &sync.Mutex{},
	}

	// Closing the stream unblocks the receive loop, closing the outbound reader unblocks the send loop.
	_ = context.AfterFunc(bridgeCtx, func() {
		_ = stream.Close()
		_ = outR.CloseWithError(ErrPipeClosed)
	})

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return receiveLoop(bridgeCtx, stream, inW)
	})
	g.Go(func() error {
		defer cancel()
		return sendLoop(bridgeCtx, stream, outR)
	})

	go func() {
		loopErr := g.Wait()

		dp.lock.Lock()
		dp.err = loopErr
		dp.lock.Unlock()

		if loopErr != nil {
			log.V(1).Info("Connection ended with an error", "Error", loopErr.Error())
		} else {
			log.V(1).Info("Connection ended")
		}
		close(dp.done)
	}()

	return dp
}

func receiveLoop(ctx context.Context, stream io.Reader, inW *diag_io.BufferedPipeWriter) error {
	buf := make([]byte, defaultBridgeBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, writeErr := inW.Write(buf[:n]); writeErr != nil {
				// Nobody is reading the input anymore.
				return nil
			}
		}

		switch {
		case readErr == nil && n > 0:
			continue
		case readErr == nil, errors.Is(readErr, io.EOF), ctx.Err() != nil:
			// Peer closed the connection, or we closed the stream because the bridge is shutting down.
			_ = inW.Close()
			return nil
		default:
			wrapped := fmt.Errorf("%w: read failed: %w", ErrTransport, readErr)
			_ = inW.CloseWithError(wrapped)
			return wrapped
		}
	}
}

func sendLoop(ctx context.Context, stream io.Writer, outR *diag_io.BufferedPipeReader) error {
	flusher, canFlush := stream.(Flusher)
	buf := make([]byte, defaultBridgeBufferSize)

	for {
		n, readErr := outR.Read(buf)
		if n > 0 {
			if _, writeErr := stream.Write(buf[:n]); writeErr != nil {
				if ctx.Err() != nil {
					return nil
				}
				wrapped := fmt.Errorf("%w: write failed: %w", ErrTransport, writeErr)
				_ = outR.CloseWithError(wrapped)
				return wrapped
			}
			if canFlush {
				if flushErr := flusher.Flush(); flushErr != nil && ctx.Err() == nil {
					wrapped := fmt.Errorf("%w: flush failed: %w", ErrTransport, flushErr)
					_ = outR.CloseWithError(wrapped)
					return wrapped
				}
			}
		}

		if readErr != nil {
			// Output was closed by its owner (io.EOF) or the bridge is shutting down.
			_ = outR.CloseWithError(ErrPipeClosed)
			return nil
		}
	}
}

// Done returns a channel that is closed when both loops have exited.
func (dp *DuplexPipe) Done() <-chan struct{} {
	return dp.done
}

// Err returns the transport error that ended the connection, if any.
// It returns nil until Done() is closed, and also when the connection ended normally.
func (dp *DuplexPipe) Err() error {
	dp.lock.Lock()
	defer dp.lock.Unlock()
	return dp.err
}

// Close tears down the connection and waits for both loops to exit.
// Bytes written to Output but not yet sent are discarded.
func (dp *DuplexPipe) Close() error {
	dp.cancel()
	_ = dp.inboundReader.CloseWithError(ErrPipeClosed)
	_ = dp.outboundWriter.CloseWithError(ErrPipeClosed)
	<-dp.done
	return nil
}
