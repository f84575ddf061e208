package ssh

import "errors"

// Error taxonomy. Callers switch on errors.Is against these
// sentinels; wrapping with fmt.Errorf("...: %w", ...) at call boundaries
// preserves that.
var (
	// ErrNotInitialized is returned by Rqst (and the event source toggles
	// built on it), ConsumerAdd and Teardown when called before Initialize
	// or after Teardown.
	ErrNotInitialized = errors.New("ssh: controller not initialized")

	// ErrNotPermitted is returned for an operation disallowed in the
	// controller's current lifecycle state, e.g. Rqst while Suspended.
	ErrNotPermitted = errors.New("ssh: operation not permitted in current state")

	// ErrInvalidArgument is returned for a malformed Request, e.g. a
	// payload longer than MaxPayload.
	ErrInvalidArgument = errors.New("ssh: invalid argument")

	// ErrOutOfMemory tags the log line emitted when a dispatcher queue is
	// full and an inbound event frame has to be dropped. The event path
	// never surfaces it to callers.
	ErrOutOfMemory = errors.New("ssh: out of memory")

	// ErrProtocolViolation tags the log lines emitted when inbound bytes
	// cannot be reconciled with the wire grammar (bad SYN, CRC or TAIL).
	// The assembler recovers by discarding and resynchronizing, so it is
	// never surfaced to callers either.
	ErrProtocolViolation = errors.New("ssh: protocol violation")

	// ErrIoFailed is returned when the transport write fails outright or
	// the request engine exhausts NumRetry without an ACK.
	ErrIoFailed = errors.New("ssh: i/o failed")

	// ErrInvalidLength is returned when a response frame's payload does
	// not fit the caller-supplied Buffer.
	ErrInvalidLength = errors.New("ssh: invalid length")

	// ErrControllerReportedError tags the log line emitted when an admin
	// command's one-byte status response is non-zero. The call itself still
	// reports success, so it is never surfaced to callers.
	ErrControllerReportedError = errors.New("ssh: controller reported error")
)
