// Package transport implements the Transport collaborator the ssh engine
// drives: a go.bug.st/serial-backed UART link with a dedicated read
// goroutine feeding the engine's receive callback.
package transport

import (
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/linux-surface/ssh-hubd/pkg/ssh"
)

// readChunkSize bounds a single Read call; the engine's own receive
// assembler handles reassembly, so there is no benefit to reading more
// than a modest chunk at a time.
const readChunkSize = 256

// SerialPort is a go.bug.st/serial-backed ssh.Transport.
type SerialPort struct {
	devicePath string

	mu       sync.Mutex
	port     serial.Port
	receiver func([]byte) int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a SerialPort bound to devicePath. It touches nothing
// until Open is called.
func New(devicePath string) *SerialPort {
	return &SerialPort{devicePath: devicePath}
}

// SetReceiver installs the callback the read loop feeds inbound bytes to.
func (s *SerialPort) SetReceiver(receiveBuf func([]byte) int) {
	s.mu.Lock()
	s.receiver = receiveBuf
	s.mu.Unlock()
}

// Open opens the underlying port at a conservative default baud rate and
// starts the read loop; Configure is expected to follow with the
// platform-resolved parameters.
func (s *SerialPort) Open() error {
	mode := &serial.Mode{BaudRate: 115200}
	port, err := serial.Open(s.devicePath, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.devicePath, err)
	}

	s.mu.Lock()
	s.port = port
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop()

	log.Printf("transport: opened %s", s.devicePath)
	return nil
}

// Configure applies the resolved UART parameters to the open port.
func (s *SerialPort) Configure(cfg ssh.UARTConfig) error {
	if cfg.FlowControl == ssh.FlowControlRTSCTS {
		log.Printf("transport: hardware flow control requested but not exposed by the underlying port driver; continuing without it")
	}

	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("transport: configure called before open")
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   toSerialParity(cfg.Parity),
	}
	if err := port.SetMode(mode); err != nil {
		return fmt.Errorf("transport: set mode: %w", err)
	}
	log.Printf("transport: configured %s baud=%d parity=%v", s.devicePath, cfg.BaudRate, cfg.Parity)
	return nil
}

// Write writes data to the port, failing the call if it does not complete
// within timeout.
func (s *SerialPort) Write(data []byte, timeout time.Duration) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("transport: write before open")
	}

	log.Printf("transport: tx %s", hex.EncodeToString(data))

	done := make(chan error, 1)
	go func() {
		_, err := port.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("transport: write timed out after %s", timeout)
	}
}

// Close stops the read loop and closes the port.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	port := s.port
	stopCh := s.stopCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.wg.Wait()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	log.Printf("transport: closed %s", s.devicePath)
	return nil
}

func (s *SerialPort) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			log.Printf("transport: read error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}

		s.mu.Lock()
		receiver := s.receiver
		s.mu.Unlock()
		if receiver == nil {
			continue
		}
		if accepted := receiver(buf[:n]); accepted < n {
			log.Printf("transport: receive buffer backpressured, dropped %d bytes", n-accepted)
		}
	}
}

func toSerialParity(p ssh.Parity) serial.Parity {
	switch p {
	case ssh.ParityEven:
		return serial.EvenParity
	case ssh.ParityOdd:
		return serial.OddParity
	default:
		return serial.NoParity
	}
}
