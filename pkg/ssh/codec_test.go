package ssh

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		seq  uint8
		rqid uint16
	}{
		{"zero payload", Request{TargetCategory: 0x01, InstanceID: 0x00, CommandID: 0x16}, 0x00, 1},
		{"with payload", Request{TargetCategory: 0x02, InstanceID: 0x05, CommandID: 0x3a, Payload: []byte{0xde, 0xad, 0xbe, 0xef}}, 0x07, 42},
		{"max payload", Request{TargetCategory: 0x01, InstanceID: 0x00, CommandID: 0x01, Payload: bytes.Repeat([]byte{0xAB}, MaxPayload)}, 0xff, 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeCommand(&tc.req, tc.seq, tc.rqid)

			res := decode(encoded)
			if res.status != decodeFrame {
				t.Fatalf("decode status = %v, want decodeFrame", res.status)
			}
			if res.consumed != len(encoded) {
				t.Errorf("consumed = %d, want %d", res.consumed, len(encoded))
			}

			f := res.frame
			if f.kind != kindCommand {
				t.Errorf("kind = %v, want kindCommand", f.kind)
			}
			if f.seq != tc.seq {
				t.Errorf("seq = %#x, want %#x", f.seq, tc.seq)
			}
			if f.rqid != wireRqid(tc.rqid) {
				t.Errorf("rqid = %#x, want %#x", f.rqid, wireRqid(tc.rqid))
			}
			if f.tc != tc.req.TargetCategory || f.iid != tc.req.InstanceID || f.cid != tc.req.CommandID {
				t.Errorf("tc/iid/cid = %#x/%#x/%#x, want %#x/%#x/%#x", f.tc, f.iid, f.cid, tc.req.TargetCategory, tc.req.InstanceID, tc.req.CommandID)
			}
			if !bytes.Equal(f.payload, tc.req.Payload) {
				t.Errorf("payload = % x, want % x", f.payload, tc.req.Payload)
			}
		})
	}
}

func TestEncodeDecodeAckRoundTrip(t *testing.T) {
	encoded := encodeAck(0x42)
	res := decode(encoded)
	if res.status != decodeFrame || res.frame.kind != kindAck {
		t.Fatalf("decode(ack) = %+v, want a decodeFrame/kindAck", res)
	}
	if res.frame.seq != 0x42 {
		t.Errorf("seq = %#x, want 0x42", res.frame.seq)
	}
	if res.consumed != len(encoded) {
		t.Errorf("consumed = %d, want %d", res.consumed, len(encoded))
	}
}

func TestEncodeDecodeRetryRoundTrip(t *testing.T) {
	encoded := encodeRetry()
	res := decode(encoded)
	if res.status != decodeFrame || res.frame.kind != kindRetry {
		t.Fatalf("decode(retry) = %+v, want a decodeFrame/kindRetry", res)
	}
	if res.consumed != len(encoded) {
		t.Errorf("consumed = %d, want %d", res.consumed, len(encoded))
	}
}

func TestDecodeNeedOnShortBuffer(t *testing.T) {
	full := encodeCommand(&Request{TargetCategory: 1, CommandID: 1, Payload: []byte{1, 2, 3}}, 0, 1)
	for n := 0; n < len(full); n++ {
		res := decode(full[:n])
		if res.status != decodeNeed {
			t.Errorf("decode(full[:%d]) status = %v, want decodeNeed", n, res.status)
		}
	}
}

func TestDecodeDropsOnBadSYN(t *testing.T) {
	garbage := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	res := decode(garbage)
	if res.status != decodeDrop || res.consumed != len(garbage) {
		t.Errorf("decode(garbage) = %+v, want Drop(%d)", res, len(garbage))
	}
}

func TestDecodeRejectsEveryBitFlip(t *testing.T) {
	encoded := encodeCommand(&Request{TargetCategory: 1, InstanceID: 2, CommandID: 3, Payload: []byte{0x11, 0x22}}, 5, 9)

	for i := range encoded {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), encoded...)
			flipped[i] ^= 1 << bit

			res := decode(flipped)
			if res.status == decodeFrame {
				t.Errorf("byte %d bit %d: decode succeeded on corrupted message, want Drop", i, bit)
			}
		}
	}
}

func TestDecodeResyncAfterGarbagePrefix(t *testing.T) {
	good := encodeCommand(&Request{TargetCategory: 1, CommandID: 0x10}, 3, 1)
	garbage := []byte{0x01, 0x02, 0x03, 0xAA, 0x00}
	stream := append(append([]byte(nil), garbage...), good...)

	consumedTotal := 0
	for {
		res := decode(stream[consumedTotal:])
		if res.status == decodeDrop {
			consumedTotal += res.consumed
			continue
		}
		if res.status == decodeFrame {
			consumedTotal += res.consumed
			break
		}
		t.Fatalf("decode returned Need before reaching the well-formed frame")
	}

	if consumedTotal != len(stream) {
		t.Errorf("consumed %d bytes, want %d (all garbage plus the frame)", consumedTotal, len(stream))
	}
}

func TestIsEventRqidClassification(t *testing.T) {
	cases := []struct {
		rqid uint16
		want bool
	}{
		{0, false},
		{1, true},
		{EventMask, true},
		{EventMask + 1, false},
		{wireRqid(1), false},
		{wireRqid(100), false},
	}
	for _, tc := range cases {
		if got := isEventRqid(tc.rqid); got != tc.want {
			t.Errorf("isEventRqid(%#x) = %v, want %v", tc.rqid, got, tc.want)
		}
	}
}
