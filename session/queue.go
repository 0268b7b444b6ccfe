package session

import "sync"

// pendingQueue holds higher-level packets submitted while kexState != DONE
// (distilled spec §5: "Entry into the queue and the KEX-done check are
// performed atomically"). The queue's own lock is the thing that makes
// that true: WritePacket takes this lock, re-checks the Coordinator's
// state, and either enqueues or releases the lock and writes immediately,
// so no caller can observe a state change between the check and the
// enqueue/write decision.
type pendingQueue struct {
	mu      sync.Mutex
	packets [][]byte
	failed  error
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

// enqueue appends payload to the queue, unless the queue has already been
// permanently failed (session closing), in which case it returns the
// stored failure.
func (q *pendingQueue) enqueue(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed != nil {
		return q.failed
	}
	q.packets = append(q.packets, payload)
	return nil
}

// drain removes and returns every queued packet, in FIFO order, for the
// caller to write under the encode lock immediately after NEWKEYS
// (distilled spec: "drained in FIFO order before any subsequently
// submitted packet leaves the wire").
func (q *pendingQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.packets
	q.packets = nil
	return out
}

// fail permanently fails the queue (on session close): every packet still
// queued is dropped and every future enqueue attempt is rejected with err.
func (q *pendingQueue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = err
	q.packets = nil
}

// requestRendezvous implements the distilled spec §4.6/§5 global-request
// result monitor: request() serializes senders on a lock and parks on a
// result slot; requestSuccess/requestFailure wakes exactly one sender.
// Grounded on the teacher's single-waiter channel idioms (xsnet.Conn.WinCh),
// generalized to a sync.Cond so a timeout can poke the same primitive a
// channel close cannot be reused for.
type requestRendezvous struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bool
	result  []byte
	err     error
	ready   bool
}

func newRequestRendezvous() *requestRendezvous {
	r := &requestRendezvous{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// begin serializes a single in-flight request; a second concurrent caller
// blocks until the first's outcome is consumed.
func (r *requestRendezvous) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending {
		r.cond.Wait()
	}
	r.pending = true
	r.ready = false
	r.result = nil
	r.err = nil
}

// wait blocks until requestSuccess/requestFailure settles the pending
// request and returns its outcome.
func (r *requestRendezvous) wait() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.ready {
		r.cond.Wait()
	}
	result, err := r.result, r.err
	r.pending = false
	r.cond.Broadcast()
	return result, err
}

// succeed wakes the waiting request with a successful result buffer.
func (r *requestRendezvous) succeed(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending || r.ready {
		return
	}
	r.result = buf
	r.ready = true
	r.cond.Broadcast()
}

// fail wakes the waiting request with a failure.
func (r *requestRendezvous) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending || r.ready {
		return
	}
	r.err = err
	r.ready = true
	r.cond.Broadcast()
}
