/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package concurrency

import (
	"sync"
)

type oneTimeJobState uint8

const (
	oneTimeJobStateInitial oneTimeJobState = iota
	oneTimeJobStateRunning
	oneTimeJobStateDone
)

// OneTimeJob represents an activity that must be done only once, for example a shutdown sequence.
// Multiple goroutines can try to take the job, only one of them will get it.
// The others can wait until the job is done and observe its result.
type OneTimeJob[T any] struct {
	lock   *sync.Mutex
	done   chan struct{}
	state  oneTimeJobState
	result T
}

func NewOneTimeJob[T any]() *OneTimeJob[T] {
	return &OneTimeJob[T]{
		lock:  &sync.Mutex{},
		done:  make(chan struct{}),
		state: oneTimeJobStateInitial,
	}
}

// Atomically tries to take the job.
// Returns true if the caller is supposed to perform the job, false if the job is already taken.
func (otj *OneTimeJob[T]) TryTake() bool {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	if otj.state != oneTimeJobStateInitial {
		return false
	}
	otj.state = oneTimeJobStateRunning
	return true
}

// Sets the job result and marks the job as done.
func (otj *OneTimeJob[T]) Complete(res T) {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	switch otj.state {
	case oneTimeJobStateInitial:
		panic("cannot mark OneTimeJob as done before it is started")
	case oneTimeJobStateDone:
		panic("OneTimeJob marked as done more than once")
	}

	otj.state = oneTimeJobStateDone
	otj.result = res
	close(otj.done)
}

// Do performs the job if nobody took it yet, then waits for the result.
func (otj *OneTimeJob[T]) Do(job func() T) T {
	if otj.TryTake() {
		otj.Complete(job())
	}
	return otj.WaitResult()
}

func (otj *OneTimeJob[T]) Done() <-chan struct{} {
	return otj.done
}

// Waits for the job to be done and returns the result.
func (otj *OneTimeJob[T]) WaitResult() T {
	<-otj.done // Channel read establishes happens-before relationship for result read.
	return otj.result
}

func (otj *OneTimeJob[T]) IsDone() bool {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	return otj.state == oneTimeJobStateDone
}
