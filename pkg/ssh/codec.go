package ssh

import "log"

// encodeCommand serializes req using the given (seq, rqid) pair into a
// complete MSG: SYN CtrlFrame CRC16 CmdFrame PAYLOAD CRC16.
func encodeCommand(req *Request, seq uint8, rqid uint16) []byte {
	cmdLen := byteLenCmd + len(req.Payload)

	buf := make([]byte, byteLenSync+byteLenCtrl+byteLenCRC+cmdLen+byteLenCRC)

	buf[0], buf[1] = syn1, syn2

	ctrl := buf[byteLenSync : byteLenSync+byteLenCtrl]
	ctrl[0] = frameTypeCmd
	ctrl[1] = byte(cmdLen)
	ctrl[2] = 0x00
	ctrl[3] = seq
	putCRC(buf[byteLenSync+byteLenCtrl:], crc16(ctrl))

	cmdOff := byteLenSync + byteLenCtrl + byteLenCRC
	cmd := buf[cmdOff : cmdOff+cmdLen]
	wire := wireRqid(rqid)
	cmd[0] = frameTypeCmd
	cmd[1] = req.TargetCategory
	cmd[2] = 0x01
	cmd[3] = 0x00
	cmd[4] = req.InstanceID
	cmd[5] = byte(wire)
	cmd[6] = byte(wire >> 8)
	cmd[7] = req.CommandID
	copy(cmd[byteLenCmd:], req.Payload)
	putCRC(buf[cmdOff+cmdLen:], crc16(cmd))

	return buf
}

// encodeAck serializes a fixed-length Ack{seq} frame: SYN CtrlFrame CRC16
// TAIL.
func encodeAck(seq uint8) []byte {
	return encodeCtrlOnly(frameTypeAck, seq)
}

// encodeRetry serializes a fixed-length Retry{} frame. The request engine
// never emits this today, but the codec supports it symmetrically with Ack
// since the wire grammar defines it.
func encodeRetry() []byte {
	return encodeCtrlOnly(frameTypeRetry, 0)
}

func encodeCtrlOnly(frameType byte, seq uint8) []byte {
	buf := make([]byte, byteLenSync+byteLenCtrl+byteLenCRC+byteLenTerm)
	buf[0], buf[1] = syn1, syn2

	ctrl := buf[byteLenSync : byteLenSync+byteLenCtrl]
	ctrl[0] = frameType
	ctrl[1] = 0x00
	ctrl[2] = 0x00
	ctrl[3] = seq
	putCRC(buf[byteLenSync+byteLenCtrl:], crc16(ctrl))

	termOff := byteLenSync + byteLenCtrl + byteLenCRC
	buf[termOff] = term1
	buf[termOff+1] = term2

	return buf
}

type decodeStatus int

const (
	decodeNeed decodeStatus = iota
	decodeDrop
	decodeFrame
)

type decodeResult struct {
	status   decodeStatus
	consumed int
	frame    frame
}

func needMore() decodeResult  { return decodeResult{status: decodeNeed} }
func drop(n int) decodeResult { return decodeResult{status: decodeDrop, consumed: n} }
func gotFrame(n int, f frame) decodeResult {
	return decodeResult{status: decodeFrame, consumed: n, frame: f}
}

// decode attempts to parse exactly one frame from the prefix of buf. It
// never reads or writes past len(buf). Need means more bytes are required
// before a verdict is possible; Drop(k) means the first k bytes are to be
// discarded: up to the next possible SYN when buf does not start with one,
// only the message itself when its command CRC is bad, and the whole
// buffer when the control frame fails its checks; Frame(k, f) consumed k
// bytes producing f.
func decode(buf []byte) decodeResult {
	if len(buf) < byteLenSync+byteLenCtrl {
		return needMore()
	}
	if buf[0] != syn1 || buf[1] != syn2 {
		log.Printf("ssh: rx: %v: invalid start of message", ErrProtocolViolation)
		// Resynchronize: keep everything from the next SYN (or a trailing
		// first SYN byte that may yet be completed) onwards.
		n := 1
		for n < len(buf) && !(buf[n] == syn1 && (n+1 == len(buf) || buf[n+1] == syn2)) {
			n++
		}
		return drop(n)
	}
	if len(buf) < byteLenSync+byteLenCtrl+byteLenCRC {
		return needMore()
	}

	ctrl := buf[byteLenSync : byteLenSync+byteLenCtrl]
	ctrlCRCOff := byteLenSync + byteLenCtrl
	wantCRC := uint16(buf[ctrlCRCOff]) | uint16(buf[ctrlCRCOff+1])<<8
	if crc16(ctrl) != wantCRC {
		// The declared length cannot be trusted either, so everything
		// buffered goes.
		log.Printf("ssh: rx: %v: invalid checksum (ctrl)", ErrProtocolViolation)
		return drop(len(buf))
	}

	ctrlType := ctrl[0]
	seq := ctrl[3]

	switch ctrlType {
	case frameTypeAck, frameTypeRetry:
		total := byteLenSync + byteLenCtrl + byteLenCRC + byteLenTerm
		if len(buf) < total {
			return needMore()
		}
		termOff := ctrlCRCOff + byteLenCRC
		if buf[termOff] != term1 || buf[termOff+1] != term2 {
			log.Printf("ssh: rx: %v: invalid end of message", ErrProtocolViolation)
			return drop(len(buf))
		}
		kind := kindAck
		if ctrlType == frameTypeRetry {
			kind = kindRetry
		}
		return gotFrame(total, frame{kind: kind, seq: seq})

	case frameTypeCmd:
		cmdLen := int(ctrl[1])
		if cmdLen < byteLenCmd {
			log.Printf("ssh: rx: %v: command frame length %d too short", ErrProtocolViolation, cmdLen)
			return drop(len(buf))
		}
		prefix := byteLenSync + byteLenCtrl + byteLenCRC
		total := prefix + cmdLen + byteLenCRC
		if len(buf) < total {
			return needMore()
		}

		cmd := buf[prefix : prefix+cmdLen]
		cmdCRCOff := prefix + cmdLen
		wantCmdCRC := uint16(buf[cmdCRCOff]) | uint16(buf[cmdCRCOff+1])<<8
		if crc16(cmd) != wantCmdCRC {
			// The control frame's CRC already vouched for the length, so
			// only this message is discarded.
			log.Printf("ssh: rx: %v: invalid checksum (cmd)", ErrProtocolViolation)
			return drop(total)
		}

		payload := make([]byte, cmdLen-byteLenCmd)
		copy(payload, cmd[byteLenCmd:])
		rqid := uint16(cmd[5]) | uint16(cmd[6])<<8

		return gotFrame(total, frame{
			kind:    kindCommand,
			seq:     seq,
			rqid:    rqid,
			tc:      cmd[1],
			iid:     cmd[4],
			cid:     cmd[7],
			payload: payload,
		})

	default:
		log.Printf("ssh: rx: %v: unknown frame type 0x%02x", ErrProtocolViolation, ctrlType)
		return drop(len(buf))
	}
}
