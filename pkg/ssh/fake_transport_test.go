package ssh

import (
	"sync"
	"time"
)

// fakeTransport is an in-memory Transport used to drive the request
// engine and event dispatcher without a real serial port.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	receiver func([]byte) int
	writeErr error

	// onWrite, when set, is invoked synchronously right after each write is
	// recorded, with its 0-based index and the bytes written. Tests use it
	// to script the simulated controller's replies.
	onWrite func(n int, data []byte)

	opened, closed bool
	cfg            UARTConfig
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Open() error  { f.opened = true; return nil }
func (f *fakeTransport) Close() error { f.closed = true; return nil }

func (f *fakeTransport) Configure(cfg UARTConfig) error {
	f.cfg = cfg
	return nil
}

func (f *fakeTransport) SetReceiver(fn func([]byte) int) {
	f.mu.Lock()
	f.receiver = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Write(data []byte, timeout time.Duration) error {
	f.mu.Lock()
	n := len(f.writes)
	f.writes = append(f.writes, append([]byte(nil), data...))
	err := f.writeErr
	onWrite := f.onWrite
	f.mu.Unlock()

	if onWrite != nil {
		onWrite(n, data)
	}
	return err
}

// deliver feeds bytes to the installed receiver, the way a real
// transport's read goroutine would.
func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	fn := f.receiver
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) writeAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[i]
}

// newTestController builds a Controller already in the Initialized state,
// wired to ft, without running the full probe sequence in Initialize
// (which would itself require a scripted resume handshake).
func newTestController(ft *fakeTransport) *Controller {
	c := New(Options{Transport: ft})
	ft.SetReceiver(c.receiver.feed)
	c.setState(Initialized)
	return c
}

// waitForReceiverState polls the receiver's internal state, for tests that
// need to know the request engine has armed its next expectation before
// delivering an asynchronous reply.
func waitForReceiverState(r *receiver, want receiverState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		st := r.state
		r.mu.Unlock()
		if st == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// encodeRawCommandFrame builds a command-frame MSG the way the controller
// side does for events: the rqid field carries the raw event id rather
// than a host counter shifted by EventBits.
func encodeRawCommandFrame(seq uint8, rqid uint16, tc, iid, cid uint8, payload []byte) []byte {
	cmdLen := byteLenCmd + len(payload)
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
	cmd[0] = frameTypeCmd
	cmd[1] = tc
	cmd[2] = 0x01
	cmd[3] = 0x00
	cmd[4] = iid
	cmd[5] = byte(rqid)
	cmd[6] = byte(rqid >> 8)
	cmd[7] = cid
	copy(cmd[byteLenCmd:], payload)
	putCRC(buf[cmdOff+cmdLen:], crc16(cmd))

	return buf
}
