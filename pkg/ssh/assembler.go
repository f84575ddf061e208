package ssh

import (
	"sync"
	"time"
)

type receiverState int

const (
	stateDiscard receiverState = iota
	stateAwaitControl
	stateAwaitCommand
)

// expectation is set once before each outbound send and consulted by the
// receiver to decide whether an inbound frame is the one the request
// engine is waiting for. payload records whether the request solicits a
// response frame after its ACK.
type expectation struct {
	payload bool
	seq     uint8
	rqid    uint16
}

// fifoRecord is handed from the receiver to the request engine through the
// single-producer/single-consumer fifo.
type fifoRecord struct {
	kind    frameKind
	seq     uint8
	payload []byte
}

// scratchCapacity bounds the receive assembler's evaluation buffer.
const scratchCapacity = 4 * 1024

// fifoDepth bounds undelivered records between receiver and engine: a
// request can have at most its ACK and its response command outstanding at
// once.
const fifoDepth = 2

// receiver assembles the inbound byte stream into frames and implements
// the receiver side of the request engine's wait protocol. state, expect,
// buf and events are all guarded by mu.
type receiver struct {
	mu     sync.Mutex
	state  receiverState
	expect expectation
	buf    []byte
	events *eventDispatcher

	result chan fifoRecord
}

func newReceiver(events *eventDispatcher) *receiver {
	return &receiver{
		state:  stateDiscard,
		buf:    make([]byte, 0, scratchCapacity),
		result: make(chan fifoRecord, fifoDepth),
		events: events,
	}
}

// setEvents swaps the dispatcher the receiver routes event frames to;
// Initialize uses it when it has to construct a fresh dispatcher after a
// teardown destroyed the previous one.
func (r *receiver) setEvents(events *eventDispatcher) {
	r.mu.Lock()
	r.events = events
	r.mu.Unlock()
}

// restart arms the receiver for one request ahead of sending it: state
// moves to AwaitControl, the expectation is pinned to the request's (seq,
// wire rqid, wants-response) triple, the evaluation buffer is cleared and
// the completion signal is reset. The receiver itself advances to
// AwaitCommand when the matching ACK arrives for a request that expects a
// response, so a reply sent hard on the ACK's heels is never missed.
func (r *receiver) restart(expectSeq uint8, expectWireRqid uint16, expectPayload bool) {
	r.mu.Lock()
	r.state = stateAwaitControl
	r.expect = expectation{payload: expectPayload, seq: expectSeq, rqid: expectWireRqid}
	r.buf = r.buf[:0]
	r.mu.Unlock()
	r.drainSignal()
}

// discard transitions to Discard, clears the evaluation buffer and the
// fifo: the terminal step of every rqst exit path.
func (r *receiver) discard() {
	r.mu.Lock()
	r.state = stateDiscard
	r.expect = expectation{}
	r.buf = r.buf[:0]
	r.mu.Unlock()
	r.drainSignal()
}

func (r *receiver) drainSignal() {
	for {
		select {
		case <-r.result:
		default:
			return
		}
	}
}

// wait blocks for a solicited fifo record until timeout elapses.
func (r *receiver) wait(timeout time.Duration) (fifoRecord, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case rec := <-r.result:
		return rec, true
	case <-t.C:
		return fifoRecord{}, false
	}
}

// feed is the Transport's receive callback. It appends
// chunk to the evaluation buffer, clipping to remaining capacity, then
// repeatedly decodes: Need stops the loop, Drop(k) discards k bytes and
// continues, Frame(k, f) dispatches f and discards k bytes. It returns the
// number of bytes accepted so the transport may backpressure.
func (r *receiver) feed(chunk []byte) int {
	r.mu.Lock()
	room := cap(r.buf) - len(r.buf)
	accepted := len(chunk)
	if accepted > room {
		accepted = room
	}
	r.buf = append(r.buf, chunk[:accepted]...)

	var frames []frame
	for {
		res := decode(r.buf)
		switch res.status {
		case decodeNeed:
			r.mu.Unlock()
			for _, f := range frames {
				r.route(f)
			}
			return accepted
		case decodeDrop:
			r.buf = r.buf[:copy(r.buf, r.buf[res.consumed:])]
		case decodeFrame:
			r.buf = r.buf[:copy(r.buf, r.buf[res.consumed:])]
			frames = append(frames, res.frame)
		}
	}
}

// route classifies a decoded frame: event-range command frames go to the
// event dispatcher, everything else is matched against the current
// expectation and, if it matches, handed to the waiting request engine.
// State transitions happen here, under the receiver lock, so an expected
// response frame arriving immediately after its ACK is already solicited
// by the time it is examined.
func (r *receiver) route(f frame) {
	if f.kind == kindCommand && isEventRqid(f.rqid) {
		r.mu.Lock()
		events := r.events
		r.mu.Unlock()
		if events != nil {
			events.handleCommand(f)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateAwaitControl:
		switch f.kind {
		case kindAck:
			if f.seq != r.expect.seq {
				return
			}
			if r.expect.payload {
				r.state = stateAwaitCommand
			} else {
				r.state = stateDiscard
			}
			r.deliver(fifoRecord{kind: kindAck, seq: f.seq})
		case kindRetry:
			// RETRY wakes the engine so its next attempt starts without
			// waiting out the read timeout.
			r.deliver(fifoRecord{kind: kindRetry, seq: f.seq})
		}
	case stateAwaitCommand:
		if f.kind == kindCommand && f.rqid == r.expect.rqid {
			r.state = stateDiscard
			r.deliver(fifoRecord{kind: kindCommand, seq: f.seq, payload: f.payload})
		}
	}
	// stateDiscard, or a frame not matching the live expectation: nothing
	// solicited this frame, so it is silently dropped.
}

func (r *receiver) deliver(rec fifoRecord) {
	select {
	case r.result <- rec:
	default:
		// The fifo already holds undelivered records for a wait window
		// that has since moved on; the request engine reset the signal
		// before arming the next expectation, so this can only happen for
		// a frame that no longer matters.
	}
}
