package ssh

import (
	"testing"
	"time"
)

func TestReceiverFeedDeliversSolicitedAck(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x03, 0, false)

	msg := encodeAck(0x03)
	if n := r.feed(msg); n != len(msg) {
		t.Fatalf("feed accepted %d bytes, want %d", n, len(msg))
	}

	rec, ok := r.wait(10 * time.Millisecond)
	if !ok {
		t.Fatal("wait timed out, want a delivered record")
	}
	if rec.kind != kindAck || rec.seq != 0x03 {
		t.Errorf("record = %+v, want Ack{seq=3}", rec)
	}
}

func TestReceiverFeedAcrossMultipleChunks(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x00, 0, false)

	msg := encodeAck(0x00)
	mid := len(msg) / 2

	if n := r.feed(msg[:mid]); n != mid {
		t.Fatalf("first chunk accepted %d, want %d", n, mid)
	}
	if _, ok := r.wait(5 * time.Millisecond); ok {
		t.Fatal("wait succeeded before the full frame arrived")
	}

	if n := r.feed(msg[mid:]); n != len(msg)-mid {
		t.Fatalf("second chunk accepted %d, want %d", n, len(msg)-mid)
	}
	if _, ok := r.wait(10 * time.Millisecond); !ok {
		t.Fatal("wait timed out after the full frame arrived")
	}
}

func TestReceiverIgnoresUnsolicitedAck(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x05, 0, false)

	// An ack for the wrong seq must not satisfy the wait.
	r.feed(encodeAck(0x09))
	if _, ok := r.wait(10 * time.Millisecond); ok {
		t.Fatal("wait succeeded on a mismatched seq")
	}
}

func TestReceiverDiscardDropsEverything(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x01, 0, false)
	r.discard()

	r.feed(encodeAck(0x01))
	if _, ok := r.wait(10 * time.Millisecond); ok {
		t.Fatal("wait succeeded after discard, want no delivery")
	}
}

func TestReceiverAdvancesToCommandOnAck(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x02, wireRqid(7), true)

	// ACK and the response command arriving back to back, before the
	// engine has consumed either record.
	r.feed(encodeAck(0x02))
	r.feed(encodeRawCommandFrame(0x08, wireRqid(7), 0x01, 0, 0x20, []byte{0x5A}))

	rec, ok := r.wait(10 * time.Millisecond)
	if !ok || rec.kind != kindAck {
		t.Fatalf("first record = (%+v, %v), want the Ack", rec, ok)
	}
	rec, ok = r.wait(10 * time.Millisecond)
	if !ok || rec.kind != kindCommand {
		t.Fatalf("second record = (%+v, %v), want the response command", rec, ok)
	}
	if len(rec.payload) != 1 || rec.payload[0] != 0x5A {
		t.Errorf("response payload = % x, want [5a]", rec.payload)
	}
}

func TestReceiverDeliversRetryFrame(t *testing.T) {
	r := newReceiver(nil)
	r.restart(0x04, 0, false)

	r.feed(encodeRetry())

	rec, ok := r.wait(10 * time.Millisecond)
	if !ok || rec.kind != kindRetry {
		t.Fatalf("record = (%+v, %v), want a Retry", rec, ok)
	}
}

func TestReceiverRoutesEventFrameToDispatcher(t *testing.T) {
	seen := make(chan Event, 1)
	reg := newRegistry()
	reg.set(2, func(ev Event, data interface{}) { seen <- ev }, nil, nil)

	events := newEventDispatcher(reg, 1, nil, func(uint8) {}, func() bool { return true })
	defer events.shutdown()

	r := newReceiver(events)
	r.feed(encodeRawCommandFrame(0x01, 2, 0x01, 0x00, 0x10, []byte{0xAB}))

	select {
	case ev := <-seen:
		if ev.Rqid != 2 || len(ev.Payload) != 1 || ev.Payload[0] != 0xAB {
			t.Errorf("event = %+v, unexpected", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}
