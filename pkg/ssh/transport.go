package ssh

import "time"

// Parity and FlowControl enumerate the UART parameters the platform
// resource descriptor resolves.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
)

// UARTConfig is what the platform resource descriptor yields before
// Initialize configures the transport.
type UARTConfig struct {
	BaudRate    int
	Parity      Parity
	FlowControl FlowControl
}

// Transport is the byte-oriented duplex link the engine drives.
// pkg/transport supplies a go.bug.st/serial-backed implementation; tests
// supply an in-memory fake.
type Transport interface {
	Open() error
	Close() error
	Write(data []byte, timeout time.Duration) error
	Configure(cfg UARTConfig) error
	// SetReceiver installs the callback the transport invokes with inbound
	// bytes; it must be called before Open.
	SetReceiver(receiveBuf func([]byte) int)
}

// PlatformResolver yields the UART resource parameters for the single UART
// this controller binds to. Only UART serial-bus entries are honored and
// the first match terminates the walk.
type PlatformResolver interface {
	ResolveUART() (UARTConfig, error)
}

// DependentEnumerator causes firmware to enumerate child devices that
// depend on this controller, once it is up.
type DependentEnumerator interface {
	EnumerateDependents() error
}
