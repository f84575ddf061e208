package ssh

import (
	"fmt"
	"log"
)

// Result reports the outcome of a completed Rqst call.
type Result struct {
	Attempts int
}

// Rqst issues a command to the controller and, when req.HasResponse is
// set, collects its response payload into resp. It holds the controller
// mutex for its entire duration, so requests against a single Controller
// are fully serialized.
func (c *Controller) Rqst(req Request, resp *Buffer) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Uninitialized:
		return Result{}, fmt.Errorf("ssh: rqst: %w", ErrNotInitialized)
	case Suspended:
		return Result{}, fmt.Errorf("ssh: rqst: %w", ErrNotPermitted)
	}
	return c.rqstLocked(req, resp)
}

// rqstLocked runs one request, assuming the controller mutex is already
// held. Initialize/Teardown/Suspend/Resume call this directly for their
// internal admin handshakes, which must run while the transition itself
// holds the mutex.
func (c *Controller) rqstLocked(req Request, resp *Buffer) (Result, error) {
	if len(req.Payload) > MaxPayload {
		return Result{}, fmt.Errorf("ssh: rqst: payload length %d exceeds MaxPayload: %w", len(req.Payload), ErrInvalidArgument)
	}

	seq := c.counters.seq
	rqid := c.counters.rqid

	out := encodeCommand(&req, seq, rqid)

	// Arm the receiver once for the whole request; it advances from
	// AwaitControl to AwaitCommand itself when the matching ACK arrives.
	c.receiver.restart(seq, wireRqid(rqid), req.HasResponse)

	result := Result{}
	acked := false
	for try := 0; try < NumRetry; try++ {
		result.Attempts++
		c.metrics.RequestAttempt()

		if err := c.transport.Write(out, WriteTimeout); err != nil {
			c.receiver.discard()
			return result, fmt.Errorf("ssh: rqst: write: %w: %v", ErrIoFailed, err)
		}

		rec, ok := c.receiver.wait(ReadTimeout)
		if ok && rec.kind == kindAck {
			acked = true
			break
		}

		// A RETRY control frame or a timeout both land here. No RETRY is
		// sent back on timeout; the identical bytes are simply resent on
		// the next iteration.
		if try < NumRetry-1 {
			c.metrics.RequestRetry()
		}
	}

	if !acked {
		c.metrics.RequestTimeout()
		c.receiver.discard()
		return result, fmt.Errorf("ssh: rqst: %w", ErrIoFailed)
	}

	// Counters only advance once the ACK for this exact (seq, rqid) pair
	// has been observed; a failed request reuses both on its next call.
	c.counters.advance()
	c.metrics.RequestSuccess()

	if !req.HasResponse {
		c.receiver.discard()
		return result, nil
	}

	rec, ok := c.receiver.wait(ReadTimeout)
	if !ok {
		c.receiver.discard()
		return result, fmt.Errorf("ssh: rqst: response: %w", ErrIoFailed)
	}

	if resp != nil {
		if resp.Capacity < len(rec.payload) {
			c.receiver.discard()
			return result, fmt.Errorf("ssh: rqst: response: %w", ErrInvalidLength)
		}
		resp.Length = copy(resp.Data, rec.payload)
	}

	if err := c.transport.Write(encodeAck(rec.seq), WriteTimeout); err != nil {
		log.Printf("ssh: rqst: final ack write failed: %v", err)
	}

	c.receiver.discard()
	return result, nil
}
