// Package future implements one-shot completion values and listener
// proxies shared by the session core and KEX coordinator.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package future

import "sync"

// OneShot is a tri-state {pending, value, error} future: it is settled
// exactly once, either with a value or with an error, and every later
// Set call is ignored. Concurrent Wait()ers all observe the same outcome.
//
// Grounded on the teacher's channel-based coordination (xsnet.Conn.WinCh);
// generalized here into a sync.Cond-based primitive so Wait can be called
// any number of times (a channel close works once; a future may be probed
// repeatedly while KEX is RUNning).
type OneShot struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
	val  interface{}
	err  error
}

// NewOneShot returns an unsettled future.
func NewOneShot() *OneShot {
	o := &OneShot{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Set settles the future with val. The first call wins; subsequent calls
// (from a losing racer) are silently ignored.
func (o *OneShot) Set(val interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.val = val
	o.done = true
	o.cond.Broadcast()
}

// SetErr settles the future with an error. The first of Set/SetErr wins.
func (o *OneShot) SetErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.err = err
	o.done = true
	o.cond.Broadcast()
}

// Wait blocks until the future is settled and returns its outcome.
func (o *OneShot) Wait() (interface{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.done {
		o.cond.Wait()
	}
	return o.val, o.err
}

// Done reports whether the future has already been settled, without
// blocking.
func (o *OneShot) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
