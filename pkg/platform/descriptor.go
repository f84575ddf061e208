// Package platform resolves the UART parameters a Surface Serial Hub
// controller should be opened with. Firmware publishes these via an ACPI
// serial-bus resource; lacking an ACPI table on a generic Linux host,
// FlagResolver takes them from process configuration instead.
package platform

import (
	"fmt"
	"strings"

	"github.com/linux-surface/ssh-hubd/pkg/ssh"
)

// FlagResolver implements ssh.PlatformResolver from flag-supplied values.
type FlagResolver struct {
	BaudRate    int
	Parity      string
	FlowControl string
}

// ResolveUART validates and converts the configured values into a
// ssh.UARTConfig.
func (f FlagResolver) ResolveUART() (ssh.UARTConfig, error) {
	if f.BaudRate <= 0 {
		return ssh.UARTConfig{}, fmt.Errorf("platform: invalid baud rate %d", f.BaudRate)
	}
	parity, err := parseParity(f.Parity)
	if err != nil {
		return ssh.UARTConfig{}, err
	}
	flow, err := parseFlowControl(f.FlowControl)
	if err != nil {
		return ssh.UARTConfig{}, err
	}
	return ssh.UARTConfig{
		BaudRate:    f.BaudRate,
		Parity:      parity,
		FlowControl: flow,
	}, nil
}

func parseParity(s string) (ssh.Parity, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ssh.ParityNone, nil
	case "even":
		return ssh.ParityEven, nil
	case "odd":
		return ssh.ParityOdd, nil
	default:
		return 0, fmt.Errorf("platform: unknown parity %q", s)
	}
}

func parseFlowControl(s string) (ssh.FlowControl, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ssh.FlowControlNone, nil
	case "rtscts":
		return ssh.FlowControlRTSCTS, nil
	default:
		return 0, fmt.Errorf("platform: unknown flow control %q", s)
	}
}
